// Package config defines process configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Load layers defaults, an optional YAML file and VITALS_ env vars.
//   - Validation failures wrap ErrInvalidConfig so callers can stop before any
//     ingestion work begins.
package config

import (
	"runtime"

	"github.com/okian/vitals/internal/domain/model"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// StoreDir is the root of the partitioned canonical store.
	StoreDir string `koanf:"store_dir"`

	// CatalogPath is the SQLite batch catalog. Defaults to <store_dir>.catalog.db.
	CatalogPath string `koanf:"catalog_path"`

	// WorkerCount sets the number of parse/resolve workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory file job queue.
	QueueSize int `koanf:"queue_size"`

	// WriteConcurrency bounds how many partitions are merged and written at once.
	WriteConcurrency int `koanf:"write_concurrency"`

	// MetricsFile, when set, receives a Prometheus textfile dump after each run.
	MetricsFile string `koanf:"metrics_file"`

	// Batches lists the export archives to ingest.
	Batches []BatchConfig `koanf:"batches"`

	// Patterns maps a file family (heart_rate, steps, sleep, ibi, daily_summary) to a glob.
	Patterns map[string]string `koanf:"patterns"`

	// Aliases maps a canonical field name to the source field names accepted for it.
	Aliases map[string][]string `koanf:"aliases"`

	// Profile is the scoring configuration consumed by the core.
	Profile model.UserProfile `koanf:"profile"`
}

// BatchConfig describes one export batch. ExportedAt is RFC3339 or YYYY-MM-DD
// and defines recency: later exports win merge ties.
type BatchConfig struct {
	ID         string `koanf:"id"`
	Path       string `koanf:"path"`
	ExportedAt string `koanf:"exported_at"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		StoreDir:         "./vitals-store",
		WorkerCount:      runtime.NumCPU(),
		QueueSize:        4096,
		WriteConcurrency: 4,
		Patterns:         map[string]string{},
		Aliases:          map[string][]string{},
		Profile:          model.DefaultProfile(),
	}
}
