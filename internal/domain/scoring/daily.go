package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/okian/vitals/internal/domain/model"
)

const (
	minRestingHRSamples = 30
	minRMSSDIntervals   = 20
	sleepDayStartHour   = 12
	epochMinutes        = float64(model.SleepEpochSeconds) / 60
)

// Inputs holds the canonical series scoring reads, keyed by metric.
type Inputs map[model.MetricType]model.Series

// SleepSummary describes the main sleep of one sleep day.
type SleepSummary struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	TotalMinutes    float64   `json:"total_minutes"`
	DeepMinutes     float64   `json:"deep_minutes"`
	LightMinutes    float64   `json:"light_minutes"`
	REMMinutes      float64   `json:"rem_minutes"`
	UnstagedMinutes float64   `json:"unstaged_minutes"`
	WakeMinutes     float64   `json:"wake_minutes"`
}

// Staged reports whether any asleep time carries a deep, light or REM stage.
func (s SleepSummary) Staged() bool {
	return s.DeepMinutes+s.LightMinutes+s.REMMinutes > 0
}

// Reference carries vendor-computed scores, untouched.
type Reference struct {
	Sleep     *float64 `json:"sleep"`
	Readiness *float64 `json:"readiness"`
}

// DailyAggregate is the derived per-day view scoring works from. A nil
// field means no data for that day.
type DailyAggregate struct {
	Date              string        `json:"date"`
	Steps             *float64      `json:"steps"`
	RestingHR         *float64      `json:"resting_hr"`
	RestingHRSource   string        `json:"resting_hr_source,omitempty"`
	RMSSD             *float64      `json:"rmssd"`
	RMSSDSource       string        `json:"rmssd_source,omitempty"`
	Sleep             *SleepSummary `json:"sleep"`
	SleepHR           *float64      `json:"sleep_hr"`
	ActivityCalories  *float64      `json:"activity_calories"`
	ActiveZoneMinutes *float64      `json:"active_zone_minutes"`
	Reference         Reference     `json:"reference"`

	day time.Time
}

// Day returns the local midnight the aggregate starts at.
func (d DailyAggregate) Day() time.Time { return d.day }

// Midnight returns local midnight of the calendar day t falls on in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func nextDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
}

// days lists local midnights from first to last inclusive.
func days(first, last time.Time, loc *time.Location) ([]time.Time, error) {
	a, b := Midnight(first, loc), Midnight(last, loc)
	if b.Before(a) {
		return nil, ErrInvalidRange
	}
	var out []time.Time
	for d := a; !d.After(b); d = nextDay(d) {
		out = append(out, d)
	}
	return out, nil
}

// Aggregate builds one DailyAggregate per local day in [first, last].
func Aggregate(in Inputs, loc *time.Location, first, last time.Time) ([]DailyAggregate, error) {
	if loc == nil {
		loc = time.UTC
	}
	ds, err := days(first, last, loc)
	if err != nil {
		return nil, err
	}
	out := make([]DailyAggregate, len(ds))
	for i, d := range ds {
		out[i] = aggregateDay(in, d)
	}
	return out, nil
}

func aggregateDay(in Inputs, day time.Time) DailyAggregate {
	end := nextDay(day)
	agg := DailyAggregate{Date: day.Format(time.DateOnly), day: day}

	if steps := in[model.MetricSteps].Range(day, end); steps.Len() > 0 {
		var sum float64
		for _, s := range steps.Samples {
			if s.QualityOK() {
				sum += s.Value
			}
		}
		agg.Steps = &sum
	}

	if v, ok := dailyValue(in[model.MetricRestingHeartRate], day, end); ok {
		agg.RestingHR, agg.RestingHRSource = &v, "daily"
	} else if v, ok := restingHR(in[model.MetricHeartRate].Range(day, end)); ok {
		agg.RestingHR, agg.RestingHRSource = &v, "derived"
	}

	if v, ok := dailyValue(in[model.MetricActivityCalories], day, end); ok {
		agg.ActivityCalories = &v
	}
	if v, ok := dailyValue(in[model.MetricActiveZoneMins], day, end); ok {
		agg.ActiveZoneMinutes = &v
	}
	if v, ok := dailyValue(in[model.MetricOfficialSleep], day, end); ok {
		agg.Reference.Sleep = &v
	}
	if v, ok := dailyValue(in[model.MetricOfficialReady], day, end); ok {
		agg.Reference.Readiness = &v
	}

	// The sleep day runs from noon of the previous day to noon of this one.
	sleepFrom := time.Date(day.Year(), day.Month(), day.Day()-1, sleepDayStartHour, 0, 0, 0, day.Location())
	sleepTo := time.Date(day.Year(), day.Month(), day.Day(), sleepDayStartHour, 0, 0, 0, day.Location())
	agg.Sleep = summarizeSleep(in[model.MetricSleepStage].Range(sleepFrom, sleepTo))

	if agg.Sleep != nil {
		if v, ok := meanHR(in[model.MetricHeartRate].Range(agg.Sleep.Start, agg.Sleep.End)); ok {
			agg.SleepHR = &v
		}
	}

	if v, ok := dailyValue(in[model.MetricHRVRMSSD], day, end); ok {
		agg.RMSSD, agg.RMSSDSource = &v, "daily"
	} else if agg.Sleep != nil {
		if v, ok := rmssd(in[model.MetricIBI].Range(agg.Sleep.Start, agg.Sleep.End)); ok {
			agg.RMSSD, agg.RMSSDSource = &v, "derived"
		}
	}
	return agg
}

// dailyValue returns the last usable value of a once-per-day series.
func dailyValue(s model.Series, from, to time.Time) (float64, bool) {
	r := s.Range(from, to)
	for i := r.Len() - 1; i >= 0; i-- {
		if c := r.Samples[i]; c.QualityOK() && !math.IsNaN(c.Value) {
			return c.Value, true
		}
	}
	return 0, false
}

func validHR(s model.CanonicalSample) bool {
	return s.QualityOK() && s.Value > 0
}

// restingHR is the mean of the lowest decile of valid heart-rate samples.
func restingHR(s model.Series) (float64, bool) {
	vals := make([]float64, 0, s.Len())
	for _, c := range s.Samples {
		if validHR(c) {
			vals = append(vals, c.Value)
		}
	}
	if len(vals) < minRestingHRSamples {
		return 0, false
	}
	sort.Float64s(vals)
	k := (len(vals) + 9) / 10
	var sum float64
	for _, v := range vals[:k] {
		sum += v
	}
	return sum / float64(k), true
}

func meanHR(s model.Series) (float64, bool) {
	var (
		sum float64
		n   int
	)
	for _, c := range s.Samples {
		if validHR(c) {
			sum += c.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// rmssd is the root mean square of successive interbeat interval differences.
func rmssd(s model.Series) (float64, bool) {
	var (
		prev, sum    float64
		n, intervals int
	)
	for _, c := range s.Samples {
		if !c.QualityOK() || c.Value <= 0 {
			continue
		}
		if intervals > 0 {
			d := c.Value - prev
			sum += d * d
			n++
		}
		prev = c.Value
		intervals++
	}
	if intervals < minRMSSDIntervals || n == 0 {
		return 0, false
	}
	return math.Sqrt(sum / float64(n)), true
}

// summarizeSleep totals the epochs of one sleep day. The window spans the
// first to the last asleep epoch.
func summarizeSleep(s model.Series) *SleepSummary {
	var (
		sum   SleepSummary
		first = -1
		last  = -1
	)
	for i, c := range s.Samples {
		if model.SleepStage(c.Value).Asleep() {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	for _, c := range s.Samples[first : last+1] {
		switch model.SleepStage(c.Value) {
		case model.StageDeep:
			sum.DeepMinutes += epochMinutes
		case model.StageLight:
			sum.LightMinutes += epochMinutes
		case model.StageREM:
			sum.REMMinutes += epochMinutes
		case model.StageAsleep:
			sum.UnstagedMinutes += epochMinutes
		default:
			sum.WakeMinutes += epochMinutes
		}
	}
	sum.TotalMinutes = sum.DeepMinutes + sum.LightMinutes + sum.REMMinutes + sum.UnstagedMinutes
	sum.Start = s.Samples[first].Timestamp
	sum.End = s.Samples[last].Timestamp.Add(model.SleepEpochSeconds * time.Second)
	return &sum
}
