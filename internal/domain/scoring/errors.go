package scoring

import "errors"

var (
	// ErrInsufficientBaseline is returned when a rolling window holds fewer
	// present values than the baseline requires.
	ErrInsufficientBaseline = errors.New("insufficient baseline history")
	// ErrInvalidRange is returned when the last requested day precedes the first.
	ErrInvalidRange = errors.New("invalid date range")
)
