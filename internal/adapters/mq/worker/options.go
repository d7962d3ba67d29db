// Package worker parses and resolves queued export files in parallel.
package worker

import (
	"time"

	"github.com/okian/vitals/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithLocation sets the zone naive export timestamps are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(w *InMemoryWorker) {
		if loc != nil {
			w.loc = loc
		}
	}
}
