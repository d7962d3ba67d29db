package scoring

import (
	"errors"
	"math"

	"github.com/okian/vitals/internal/domain/model"
)

const (
	maxScore          = 100
	hrvNeutralScore   = 75
	fatigueFloorScore = 70
)

// Status marks whether a score was computed.
type Status string

const (
	StatusOK                   Status = "ok"
	StatusMissing              Status = "missing"
	StatusInsufficientBaseline Status = "insufficient_baseline"
)

// Component is one scored part. Score is nil unless Status is ok.
type Component struct {
	Score  *float64 `json:"score"`
	Status Status   `json:"status"`
	Source string   `json:"source,omitempty"`
}

// OK reports whether the component carries a score.
func (c Component) OK() bool { return c.Status == StatusOK && c.Score != nil }

func scored(v float64, source string) Component {
	return Component{Score: &v, Status: StatusOK, Source: source}
}

func missing() Component { return Component{Status: StatusMissing} }

// withoutScore maps a baseline error onto a status.
func withoutScore(err error) Component {
	if errors.Is(err, ErrInsufficientBaseline) {
		return Component{Status: StatusInsufficientBaseline}
	}
	return missing()
}

// Readiness is the shadow readiness score of one day.
type Readiness struct {
	Date      string    `json:"date"`
	HRV       Component `json:"hrv"`
	Sleep     Component `json:"sleep"`
	Fatigue   Component `json:"fatigue"`
	Composite Component `json:"composite"`
	ACWR      *float64  `json:"acwr,omitempty"`
	Partial   bool      `json:"partial"`
	Reference *float64  `json:"reference"`
}

// clip bounds v to [lo, hi]. NaN maps to lo.
func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// series extracts one field of the aggregates as a NaN-padded slice.
func series(aggs []DailyAggregate, field func(DailyAggregate) *float64) []float64 {
	out := make([]float64, len(aggs))
	for i, a := range aggs {
		if v := field(a); v != nil {
			out[i] = *v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func rmssdOf(a DailyAggregate) *float64     { return a.RMSSD }
func restingHROf(a DailyAggregate) *float64 { return a.RestingHR }

// ratioScore maps a recovery ratio (1 = baseline) onto 0..100.
func ratioScore(ratio float64) float64 {
	return clip(hrvNeutralScore+maxScore*(ratio-1), 0, maxScore)
}

// hrvComponent prefers RMSSD against its baseline and falls back to the
// inverse resting heart rate ratio.
func hrvComponent(i int, b Baseline, hrv, rhr []float64) Component {
	var firstErr error
	if today := hrv[i]; !math.IsNaN(today) {
		base, err := b.At(hrv, i)
		if err == nil && base > 0 {
			return scored(ratioScore(today/base), "rmssd")
		}
		firstErr = err
	}
	if today := rhr[i]; !math.IsNaN(today) && today > 0 {
		base, err := b.At(rhr, i)
		if err == nil {
			return scored(ratioScore(base/today), "resting_hr")
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return withoutScore(firstErr)
}

func sleepComponent(a DailyAggregate, goal float64) Component {
	if a.Sleep == nil {
		return missing()
	}
	return scored(clip(maxScore*a.Sleep.TotalMinutes/goal, 0, maxScore), "sleep_minutes")
}

// loads combines activity calories and active zone minutes into a daily
// training load. A day with neither is absent.
func loads(aggs []DailyAggregate, kcalPerAZM float64) []float64 {
	out := make([]float64, len(aggs))
	for i, a := range aggs {
		if a.ActivityCalories == nil && a.ActiveZoneMinutes == nil {
			out[i] = math.NaN()
			continue
		}
		var load float64
		if a.ActivityCalories != nil {
			load += *a.ActivityCalories
		}
		if a.ActiveZoneMinutes != nil {
			load += kcalPerAZM * *a.ActiveZoneMinutes
		}
		out[i] = load
	}
	return out
}

// fatigueScore maps the acute:chronic workload ratio onto 0..100. Ratios
// up to 1 score full marks, up to threshold fall linearly to 70 and
// beyond it are penalized steeply.
func fatigueScore(acwr, threshold float64) float64 {
	switch {
	case acwr <= 1:
		return maxScore
	case acwr <= threshold:
		return clip(maxScore-(maxScore-fatigueFloorScore)*(acwr-1)/(threshold-1), 0, maxScore)
	default:
		return clip(fatigueFloorScore-maxScore*(acwr-threshold), 0, maxScore)
	}
}

// fatigueComponent returns the component and the ACWR it was derived from.
func fatigueComponent(load []float64, i int, p model.UserProfile) (Component, *float64) {
	if math.IsNaN(load[i]) {
		return missing(), nil
	}
	acute, _ := windowMean(load, i, p.AcuteWindowDays)
	chronic, n := windowMean(load, i, p.ChronicWindowDays)
	if n < p.AcuteWindowDays {
		return Component{Status: StatusInsufficientBaseline}, nil
	}
	acwr := 1.0
	if chronic > 0 {
		acwr = acute / chronic
	}
	return scored(fatigueScore(acwr, p.ACWRThreshold), "acwr"), &acwr
}

type weighted struct {
	c Component
	w float64
}

// composite is the weighted mean of the scored parts with the weights of
// absent parts redistributed. partial reports whether any weighted part
// was absent.
func composite(parts ...weighted) (Component, bool) {
	var (
		sum, total   float64
		partial      bool
		insufficient bool
	)
	for _, p := range parts {
		if p.w <= 0 {
			continue
		}
		if !p.c.OK() {
			partial = true
			insufficient = insufficient || p.c.Status == StatusInsufficientBaseline
			continue
		}
		sum += p.w * *p.c.Score
		total += p.w
	}
	if total == 0 {
		if insufficient {
			return Component{Status: StatusInsufficientBaseline}, false
		}
		return missing(), false
	}
	return scored(clip(sum/total, 0, maxScore), ""), partial
}

// readiness scores every aggregate. Aggregates must be consecutive days.
func readiness(aggs []DailyAggregate, p model.UserProfile) []Readiness {
	b := baselineFrom(p.Baseline)
	hrv := series(aggs, rmssdOf)
	rhr := series(aggs, restingHROf)
	load := loads(aggs, p.ActiveZoneMinuteKcal)
	w := p.ReadinessWeights

	out := make([]Readiness, len(aggs))
	for i, a := range aggs {
		r := Readiness{
			Date:      a.Date,
			HRV:       hrvComponent(i, b, hrv, rhr),
			Sleep:     sleepComponent(a, p.SleepGoalMinutes),
			Reference: a.Reference.Readiness,
		}
		r.Fatigue, r.ACWR = fatigueComponent(load, i, p)
		r.Composite, r.Partial = composite(
			weighted{r.HRV, w.HRV},
			weighted{r.Sleep, w.Sleep},
			weighted{r.Fatigue, w.Fatigue},
		)
		out[i] = r
	}
	return out
}
