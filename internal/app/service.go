// Package service wires the extractor, worker pool, partitioned store,
// batch catalog and scoring engine into the ingestion and query
// operations the CLI exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/vitals/internal/adapters/catalog"
	"github.com/okian/vitals/internal/adapters/repository"
	"github.com/okian/vitals/internal/config"
	"github.com/okian/vitals/internal/domain/extract"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/scoring"
	"github.com/okian/vitals/pkg/logger"
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Service runs ingestion and answers queries over the canonical store.
type Service struct {
	mu sync.Mutex

	cfg *config.Config

	// Core components
	store     repository.Store
	catalog   *catalog.Catalog
	extractor *extract.Extractor
	engine    *scoring.Engine

	// State
	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore replaces the file store built from store_dir.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// New constructs a Service from a validated configuration.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{cfg: cfg, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, the catalog and the extractor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.store == nil {
		fs, err := repository.NewFileStore(s.cfg.StoreDir, repository.WithLogger(s.logger.Named("store")))
		if err != nil {
			return err
		}
		s.store = fs
	}

	ex, err := extract.New(s.cfg.Patterns, s.cfg.Aliases, extract.WithLogger(s.logger.Named("extract")))
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	s.extractor = ex

	cat, err := catalog.Open(ctx, s.cfg.CatalogPath, catalog.WithLogger(s.logger.Named("catalog")))
	if err != nil {
		return err
	}
	s.catalog = cat

	s.engine = scoring.New(s.cfg.Profile, scoring.WithLogger(s.logger.Named("scoring")))

	s.started = true
	s.logger.Info(ctx, "vitals service started",
		logger.String("store", s.cfg.StoreDir),
		logger.String("catalog", s.cfg.CatalogPath),
		logger.String("timezone", s.cfg.Profile.Timezone),
	)
	return nil
}

// Stop closes the catalog.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	if err := s.catalog.Close(); err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	s.logger.Info(context.Background(), "vitals service stopped")
	return nil
}

func (s *Service) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// ConfiguredBatches returns the batches named in the configuration.
func (s *Service) ConfiguredBatches() ([]model.Batch, error) {
	return s.cfg.ParsedBatches()
}

// Catalog lists every batch the catalog has seen, oldest export first.
func (s *Service) Catalog(ctx context.Context) ([]catalog.BatchRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.catalog.Batches(ctx)
}

// Runs lists recent ingestion runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]catalog.RunRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.catalog.Runs(ctx, limit)
}

// RunFailures returns the failure manifest of one run.
func (s *Service) RunFailures(ctx context.Context, runID string) ([]model.Failure, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.catalog.RunFailures(ctx, runID)
}

func elapsedSeconds(start time.Time) float64 { return time.Since(start).Seconds() }
