package catalog

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrOpen        = errors.New("catalog open failed")
	ErrNotFound    = errors.New("catalog entry not found")
	ErrRunFinished = errors.New("run already finished")
)
