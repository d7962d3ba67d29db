package repository

import (
	"os"

	"github.com/okian/vitals/pkg/logger"
)

// Option applies a configuration option to the FileStore.
type Option func(*FileStore)

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithFileMode sets the permission bits of partition files.
func WithFileMode(mode os.FileMode) Option {
	return func(s *FileStore) {
		if mode != 0 {
			s.fileMode = mode
		}
	}
}

// WithSyncDir controls whether the month directory is fsynced after a
// rename. Disabling it speeds up tests at the cost of crash durability.
func WithSyncDir(enabled bool) Option {
	return func(s *FileStore) {
		s.syncDir = enabled
	}
}
