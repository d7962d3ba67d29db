package model

import "fmt"

// FailureKind classifies a non-fatal problem surfaced in the run report.
type FailureKind string

const (
	FailureMalformedFile  FailureKind = "malformed_file"
	FailureUnreadable     FailureKind = "unreadable_source"
	FailureTimestamp      FailureKind = "unresolvable_timestamp"
	FailurePartitionWrite FailureKind = "partition_write"
)

// Failure records one skipped file or partition and why.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Batch  string      `json:"batch,omitempty"`
	Path   string      `json:"path"`
	Reason string      `json:"reason"`
	Err    error       `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %s", f.Kind, f.Path, f.Reason)
}

func (f Failure) Unwrap() error { return f.Err }

// NewFailure builds a failure whose reason is err's message.
func NewFailure(kind FailureKind, batch, path string, err error) Failure {
	return Failure{Kind: kind, Batch: batch, Path: path, Reason: err.Error(), Err: err}
}
