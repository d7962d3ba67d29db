// Package scoring derives daily aggregates and the shadow readiness and
// sleep scores from canonical series.
//
// Every score is computed from data up to and including the scored day.
// Callers load history via Window so the first requested day sees the same
// baseline it would see in a longer query.
package scoring

import (
	"context"
	"time"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine computes scores for one validated user profile.
type Engine struct {
	profile model.UserProfile
	log     logger.Logger
}

// New creates an engine. The profile must already be validated.
func New(profile model.UserProfile, opts ...Option) *Engine {
	e := &Engine{profile: profile, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Profile returns the profile the engine scores with.
func (e *Engine) Profile() model.UserProfile { return e.profile }

// Lookback is the number of days before the first requested day that
// baselines and workload windows reach back.
func (e *Engine) Lookback() int {
	return max(e.profile.Baseline.WindowDays, e.profile.ChronicWindowDays) - 1
}

// Window returns the UTC instants [start, end) of data needed to score the
// local days first..last, including baseline history and the evening before
// the first sleep day.
func (e *Engine) Window(first, last time.Time) (start, end time.Time) {
	loc := e.profile.Location()
	a := Midnight(first, loc)
	start = time.Date(a.Year(), a.Month(), a.Day()-e.Lookback()-1, 0, 0, 0, 0, loc)
	end = nextDay(Midnight(last, loc))
	return start.UTC(), end.UTC()
}

// extended aggregates first..last plus the lookback and returns the index
// of first within the result.
func (e *Engine) extended(in Inputs, first, last time.Time) ([]DailyAggregate, int, error) {
	loc := e.profile.Location()
	if Midnight(last, loc).Before(Midnight(first, loc)) {
		return nil, 0, ErrInvalidRange
	}
	a := Midnight(first, loc)
	from := time.Date(a.Year(), a.Month(), a.Day()-e.Lookback(), 0, 0, 0, 0, loc)
	aggs, err := Aggregate(in, loc, from, last)
	if err != nil {
		return nil, 0, err
	}
	return aggs, e.Lookback(), nil
}

// Daily returns the aggregates of the local days first..last.
func (e *Engine) Daily(in Inputs, first, last time.Time) ([]DailyAggregate, error) {
	return Aggregate(in, e.profile.Location(), first, last)
}

// Readiness scores the local days first..last.
func (e *Engine) Readiness(ctx context.Context, in Inputs, first, last time.Time) ([]Readiness, error) {
	aggs, skip, err := e.extended(in, first, last)
	if err != nil {
		return nil, err
	}
	out := readiness(aggs, e.profile)[skip:]
	for _, r := range out {
		metrics.RecordScoredDay("readiness", string(r.Composite.Status))
	}
	e.log.Debug(ctx, "scored readiness",
		logger.Int("days", len(out)),
		logger.String("from", aggs[skip].Date),
	)
	return out, nil
}

// SleepScores scores the sleep days first..last.
func (e *Engine) SleepScores(ctx context.Context, in Inputs, first, last time.Time) ([]SleepScore, error) {
	aggs, skip, err := e.extended(in, first, last)
	if err != nil {
		return nil, err
	}
	out := sleepScores(aggs, e.profile)[skip:]
	for _, s := range out {
		metrics.RecordScoredDay("sleep", string(s.Composite.Status))
	}
	e.log.Debug(ctx, "scored sleep", logger.Int("days", len(out)), logger.String("from", aggs[skip].Date))
	return out, nil
}

// Metrics lists the series the engine reads.
func Metrics() []model.MetricType {
	return append([]model.MetricType(nil), model.AllMetrics...)
}
