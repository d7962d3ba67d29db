// Package repository persists canonical series as monthly partitions.
package repository

import (
	"context"
	"time"

	"github.com/okian/vitals/internal/domain/model"
)

// Store provides read/write access to the canonical series.
type Store interface {
	// Write atomically replaces the partition with s. It reports whether the
	// stored bytes changed; an empty series writes nothing.
	Write(ctx context.Context, key model.PartitionKey, s model.Series) (bool, error)

	// ReadPartition returns one stored partition, or an empty series if the
	// partition does not exist.
	ReadPartition(ctx context.Context, key model.PartitionKey) (model.Series, error)

	// Read returns the samples of metric with start <= t < end, touching
	// only the partitions that overlap the range.
	Read(ctx context.Context, metric model.MetricType, start, end time.Time) (model.Series, error)

	// Partitions lists the stored partitions of metric in chronological order.
	Partitions(ctx context.Context, metric model.MetricType) ([]model.PartitionKey, error)

	// Delete removes a partition. Deleting a missing partition is not an error.
	Delete(ctx context.Context, key model.PartitionKey) error
}
