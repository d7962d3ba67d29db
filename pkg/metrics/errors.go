package metrics

import (
	"errors"
)

// Sentinel kinds for metrics errors.
var (
	ErrTextfileExport = errors.New("metrics textfile export failed")
)
