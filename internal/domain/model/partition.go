package model

import (
	"fmt"
	"time"
)

// PartitionKey identifies one month of one metric. Months are UTC calendar months.
type PartitionKey struct {
	Metric MetricType
	Year   int
	Month  time.Month
}

// KeyFor returns the partition key a timestamp belongs to.
func KeyFor(metric MetricType, ts time.Time) PartitionKey {
	u := ts.UTC()
	return PartitionKey{Metric: metric, Year: u.Year(), Month: u.Month()}
}

// Start is the first instant of the partition's month.
func (k PartitionKey) Start() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant after the partition's month.
func (k PartitionKey) End() time.Time {
	return k.Start().AddDate(0, 1, 0)
}

// Next returns the following month's key for the same metric.
func (k PartitionKey) Next() PartitionKey {
	return KeyFor(k.Metric, k.End())
}

// Overlaps reports whether [start, end) intersects the partition's month.
func (k PartitionKey) Overlaps(start, end time.Time) bool {
	return start.Before(k.End()) && end.After(k.Start())
}

// Less orders keys by metric, then chronologically.
func (k PartitionKey) Less(o PartitionKey) bool {
	if k.Metric != o.Metric {
		return k.Metric < o.Metric
	}
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%04d-%02d", k.Metric, k.Year, int(k.Month))
}

// KeysBetween lists the partition keys overlapping [start, end).
func KeysBetween(metric MetricType, start, end time.Time) []PartitionKey {
	if !start.Before(end) {
		return nil
	}
	var keys []PartitionKey
	for k := KeyFor(metric, start); k.Start().Before(end); k = k.Next() {
		keys = append(keys, k)
	}
	return keys
}
