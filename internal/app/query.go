package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/scoring"
)

// Query returns the canonical samples of metric with from <= t < to.
func (s *Service) Query(ctx context.Context, metric model.MetricType, from, to time.Time) (model.Series, error) {
	if err := s.ready(); err != nil {
		return model.Series{}, err
	}
	return s.store.Read(ctx, metric, from, to)
}

// inputs loads every series scoring needs for the local days first..last.
func (s *Service) inputs(ctx context.Context, first, last time.Time) (scoring.Inputs, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	start, end := s.engine.Window(first, last)

	var mu sync.Mutex
	in := scoring.Inputs{}
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range scoring.Metrics() {
		g.Go(func() error {
			series, err := s.store.Read(gctx, m, start, end)
			if err != nil {
				return err
			}
			mu.Lock()
			in[m] = series
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// Daily returns the daily aggregates of the local days first..last.
func (s *Service) Daily(ctx context.Context, first, last time.Time) ([]scoring.DailyAggregate, error) {
	in, err := s.inputs(ctx, first, last)
	if err != nil {
		return nil, err
	}
	return s.engine.Daily(in, first, last)
}

// Readiness returns the shadow readiness scores of the local days first..last.
func (s *Service) Readiness(ctx context.Context, first, last time.Time) ([]scoring.Readiness, error) {
	in, err := s.inputs(ctx, first, last)
	if err != nil {
		return nil, err
	}
	return s.engine.Readiness(ctx, in, first, last)
}

// SleepScores returns the shadow sleep scores of the sleep days first..last.
func (s *Service) SleepScores(ctx context.Context, first, last time.Time) ([]scoring.SleepScore, error) {
	in, err := s.inputs(ctx, first, last)
	if err != nil {
		return nil, err
	}
	return s.engine.SleepScores(ctx, in, first, last)
}

// Location returns the profile timezone dates are interpreted in.
func (s *Service) Location() *time.Location { return s.cfg.Profile.Location() }
