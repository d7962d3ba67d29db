package model

import "errors"

// Sentinel error kinds shared across the pipeline.
var (
	ErrUnknownMetric        = errors.New("unknown metric type")
	ErrMalformedFile        = errors.New("malformed file")
	ErrUnresolvableTime     = errors.New("unresolvable timestamp")
	ErrAmbiguousTimestamp   = errors.New("ambiguous local timestamp")
	ErrNonexistentTimestamp = errors.New("nonexistent local timestamp")
	ErrNotStrictlyOrdered   = errors.New("series is not strictly increasing")
	ErrUnknownBatch         = errors.New("unknown batch")
	ErrDuplicateRecency     = errors.New("batches share the same export time")
)
