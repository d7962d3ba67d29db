package repository

import "errors"

// Sentinel kinds for partition store errors.
var (
	// ErrPartitionWrite wraps I/O failures while replacing a partition. It is
	// fatal to that partition only.
	ErrPartitionWrite = errors.New("partition write failed")

	// ErrCorruptPartition reports a stored partition that fails its checksum
	// or cannot be decoded.
	ErrCorruptPartition = errors.New("corrupt partition")

	// ErrOutOfPartition reports samples outside the target partition's month
	// or of another metric.
	ErrOutOfPartition = errors.New("sample outside partition")
)
