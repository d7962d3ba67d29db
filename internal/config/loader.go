package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/vitals/internal/domain/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VITALS_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) from path, or VITALS_CONFIG when path is empty
//  3. env (prefix VITALS_), flat keys only
func Load(ctx context.Context, path string) (*Config, error) {
	_ = ctx
	base := New()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// VITALS_STORE_DIR -> store_dir. Underscores are preserved to match koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and resolves derived values in place.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StoreDir) == "" {
		return fmt.Errorf("%w: store_dir must not be empty", ErrInvalidConfig)
	}
	if c.CatalogPath == "" {
		// Beside the store, so the store directory holds only partitions.
		c.CatalogPath = filepath.Clean(c.StoreDir) + ".catalog.db"
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	}
	if c.QueueSize < 1 || c.WriteConcurrency < 1 {
		return fmt.Errorf("%w: queue_size and write_concurrency must be positive", ErrInvalidConfig)
	}

	p, err := c.Profile.Validate()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Profile = p

	batches, err := c.ParsedBatches()
	if err != nil {
		return err
	}
	if _, err := model.NewBatchOrder(batches); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ParsedBatches converts the configured batches into domain batches.
func (c *Config) ParsedBatches() ([]model.Batch, error) {
	out := make([]model.Batch, 0, len(c.Batches))
	for i, b := range c.Batches {
		if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.Path) == "" {
			return nil, fmt.Errorf("%w: batches[%d] needs id and path", ErrInvalidConfig, i)
		}
		at, err := parseExportTime(b.ExportedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: batches[%d] (%s) exported_at: %v", ErrInvalidConfig, i, b.ID, err)
		}
		out = append(out, model.Batch{ID: b.ID, Path: b.Path, ExportedAt: at})
	}
	return out, nil
}

func parseExportTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}
