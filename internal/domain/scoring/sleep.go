package scoring

import (
	"math"

	"github.com/okian/vitals/internal/domain/model"
)

const (
	durationMax    = 50
	qualityMax     = 25
	stageMax       = qualityMax / 2.0
	restorationMax = 25
)

// SleepScore is the shadow sleep score of one sleep day.
type SleepScore struct {
	Date        string    `json:"date"`
	Duration    Component `json:"duration"`
	Quality     Component `json:"quality"`
	Restoration Component `json:"restoration"`
	Composite   Component `json:"composite"`
	Partial     bool      `json:"partial"`
	Reference   *float64  `json:"reference"`
}

// durationScore rises linearly from 0 at the minimal sleep to 50 at the goal.
func durationScore(total, minimal, goal float64) float64 {
	if total <= minimal {
		return 0
	}
	return clip(durationMax*(total-minimal)/(goal-minimal), 0, durationMax)
}

// bandScore gives full marks inside [low, high], proportionally less
// below it and decays linearly to zero as the fraction approaches 1 above it.
func bandScore(frac float64, b model.Band) float64 {
	switch {
	case frac < b.Low:
		return clip(stageMax*frac/b.Low, 0, stageMax)
	case frac <= b.High:
		return stageMax
	case b.High >= 1:
		return stageMax
	default:
		return clip(stageMax*(1-(frac-b.High)/(1-b.High)), 0, stageMax)
	}
}

func qualityComponent(s *SleepSummary, t model.StageTargets) Component {
	if s == nil || s.TotalMinutes <= 0 || !s.Staged() {
		return missing()
	}
	deep := bandScore(s.DeepMinutes/s.TotalMinutes, t.Deep)
	rem := bandScore(s.REMMinutes/s.TotalMinutes, t.REM)
	return scored(clip(deep+rem, 0, qualityMax), "stages")
}

// restorationComponent scores how far sleeping heart rate drops below the
// resting baseline.
func restorationComponent(a DailyAggregate, base float64, baseErr error, targetGap float64) Component {
	if a.Sleep == nil || a.SleepHR == nil {
		return missing()
	}
	if baseErr != nil {
		return withoutScore(baseErr)
	}
	gap := base - *a.SleepHR
	return scored(clip(restorationMax*gap/targetGap, 0, restorationMax), "resting_hr_gap")
}

// sleepScores scores every aggregate. Aggregates must be consecutive days.
func sleepScores(aggs []DailyAggregate, p model.UserProfile) []SleepScore {
	b := baselineFrom(p.Baseline)
	rhr := series(aggs, restingHROf)

	out := make([]SleepScore, len(aggs))
	for i, a := range aggs {
		s := SleepScore{Date: a.Date, Reference: a.Reference.Sleep}
		if a.Sleep == nil {
			s.Duration, s.Quality, s.Restoration, s.Composite = missing(), missing(), missing(), missing()
			out[i] = s
			continue
		}
		s.Duration = scored(durationScore(a.Sleep.TotalMinutes, p.MinimalSleepMinutes, p.SleepGoalMinutes), "sleep_minutes")
		s.Quality = qualityComponent(a.Sleep, p.SleepStageTargets)
		base, err := b.At(rhr, i)
		s.Restoration = restorationComponent(a, base, err, p.RestorationTargetGap)

		var sum, possible float64
		for _, part := range []struct {
			c   Component
			max float64
		}{
			{s.Duration, durationMax},
			{s.Quality, qualityMax},
			{s.Restoration, restorationMax},
		} {
			if part.c.OK() {
				sum += *part.c.Score
				possible += part.max
				continue
			}
			s.Partial = true
		}
		total := sum
		if s.Partial {
			total = sum * maxScore / possible
		}
		if math.IsNaN(total) || math.IsInf(total, 0) {
			total = 0
		}
		s.Composite = scored(clip(total, 0, maxScore), "")
		out[i] = s
	}
	return out
}
