package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidProfile is returned when a UserProfile fails validation.
var ErrInvalidProfile = errors.New("invalid user profile")

// BaselineKind selects the rolling baseline estimator.
type BaselineKind string

const (
	BaselineSMA BaselineKind = "sma"
	BaselineEMA BaselineKind = "ema"
)

// BaselineConfig configures a rolling baseline over daily values.
type BaselineConfig struct {
	Kind       BaselineKind `koanf:"kind" json:"kind"`
	WindowDays int          `koanf:"window_days" json:"window_days"`
	MinPeriods int          `koanf:"min_periods" json:"min_periods"`
}

// ReadinessWeights weigh the readiness components.
type ReadinessWeights struct {
	HRV     float64 `koanf:"hrv" json:"hrv"`
	Sleep   float64 `koanf:"sleep" json:"sleep"`
	Fatigue float64 `koanf:"fatigue" json:"fatigue"`
}

// Sum returns the total weight.
func (w ReadinessWeights) Sum() float64 { return w.HRV + w.Sleep + w.Fatigue }

// Band is an inclusive target range for a fraction.
type Band struct {
	Low  float64 `koanf:"low" json:"low"`
	High float64 `koanf:"high" json:"high"`
}

// StageTargets holds the target fraction of sleep spent in deep and REM.
type StageTargets struct {
	Deep Band `koanf:"deep" json:"deep"`
	REM  Band `koanf:"rem" json:"rem"`
}

// UserProfile is the read-only scoring configuration for one user.
type UserProfile struct {
	Timezone             string           `koanf:"timezone" json:"timezone"`
	SleepGoalMinutes     float64          `koanf:"sleep_goal_minutes" json:"sleep_goal_minutes"`
	MinimalSleepMinutes  float64          `koanf:"minimal_sleep_minutes" json:"minimal_sleep_minutes"`
	ReadinessWeights     ReadinessWeights `koanf:"readiness_weights" json:"readiness_weights"`
	SleepStageTargets    StageTargets     `koanf:"sleep_stage_targets" json:"sleep_stage_targets"`
	ACWRThreshold        float64          `koanf:"acwr_threshold" json:"acwr_threshold"`
	AcuteWindowDays      int              `koanf:"acute_window_days" json:"acute_window_days"`
	ChronicWindowDays    int              `koanf:"chronic_window_days" json:"chronic_window_days"`
	ActiveZoneMinuteKcal float64          `koanf:"active_zone_minute_kcal" json:"active_zone_minute_kcal"`
	RestorationTargetGap float64          `koanf:"restoration_target_gap" json:"restoration_target_gap"`
	Baseline             BaselineConfig   `koanf:"baseline" json:"baseline"`

	loc *time.Location
}

// DefaultProfile returns the profile used when no overrides are configured.
func DefaultProfile() UserProfile {
	return UserProfile{
		Timezone:            "UTC",
		SleepGoalMinutes:    480,
		MinimalSleepMinutes: 180,
		ReadinessWeights:    ReadinessWeights{HRV: 0.5, Sleep: 0.3, Fatigue: 0.2},
		SleepStageTargets: StageTargets{
			Deep: Band{Low: 0.13, High: 0.23},
			REM:  Band{Low: 0.18, High: 0.25},
		},
		ACWRThreshold:        1.5,
		AcuteWindowDays:      7,
		ChronicWindowDays:    28,
		ActiveZoneMinuteKcal: 10,
		RestorationTargetGap: 10,
		Baseline:             BaselineConfig{Kind: BaselineEMA, WindowDays: 14, MinPeriods: 3},
	}
}

// Location returns the resolved timezone. Validate must have succeeded.
func (p UserProfile) Location() *time.Location {
	if p.loc == nil {
		return time.UTC
	}
	return p.loc
}

// Validate checks the profile and resolves its timezone. The returned
// profile is the one to use afterwards.
func (p UserProfile) Validate() (UserProfile, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		return p, fmt.Errorf("%w: timezone %q: %v", ErrInvalidProfile, p.Timezone, err)
	}
	p.loc = loc

	w := p.ReadinessWeights
	for name, v := range map[string]float64{"hrv": w.HRV, "sleep": w.Sleep, "fatigue": w.Fatigue} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return p, fmt.Errorf("%w: readiness weight %s=%v must be finite and non-negative", ErrInvalidProfile, name, v)
		}
	}
	if sum := w.Sum(); sum < 0.5 || sum > 1.5 {
		return p, fmt.Errorf("%w: readiness weights sum to %.3f, want about 1.0", ErrInvalidProfile, sum)
	}
	if p.SleepGoalMinutes <= 0 || p.MinimalSleepMinutes < 0 || p.MinimalSleepMinutes >= p.SleepGoalMinutes {
		return p, fmt.Errorf("%w: need 0 <= minimal_sleep_minutes < sleep_goal_minutes", ErrInvalidProfile)
	}
	for name, b := range map[string]Band{"deep": p.SleepStageTargets.Deep, "rem": p.SleepStageTargets.REM} {
		if b.Low < 0 || b.High > 1 || b.Low > b.High || b.High == 0 {
			return p, fmt.Errorf("%w: %s band [%v, %v] must satisfy 0 <= low <= high <= 1", ErrInvalidProfile, name, b.Low, b.High)
		}
	}
	if !(p.ACWRThreshold > 1) {
		return p, fmt.Errorf("%w: acwr_threshold must be > 1", ErrInvalidProfile)
	}
	if p.AcuteWindowDays < 1 || p.ChronicWindowDays <= p.AcuteWindowDays {
		return p, fmt.Errorf("%w: need 1 <= acute_window_days < chronic_window_days", ErrInvalidProfile)
	}
	if p.ActiveZoneMinuteKcal < 0 || p.RestorationTargetGap <= 0 {
		return p, fmt.Errorf("%w: active_zone_minute_kcal >= 0 and restoration_target_gap > 0 required", ErrInvalidProfile)
	}
	switch p.Baseline.Kind {
	case BaselineSMA, BaselineEMA:
	default:
		return p, fmt.Errorf("%w: baseline kind %q", ErrInvalidProfile, p.Baseline.Kind)
	}
	if p.Baseline.WindowDays < 1 || p.Baseline.MinPeriods < 1 || p.Baseline.MinPeriods > p.Baseline.WindowDays {
		return p, fmt.Errorf("%w: need 1 <= baseline.min_periods <= baseline.window_days", ErrInvalidProfile)
	}
	return p, nil
}
