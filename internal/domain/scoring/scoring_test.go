package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/vitals/internal/domain/model"
)

func day(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

// daily builds a once-per-day series starting at day(first).
func daily(metric model.MetricType, first int, values ...float64) model.Series {
	s := model.Series{Metric: metric}
	for i, v := range values {
		s.Samples = append(s.Samples, model.CanonicalSample{Timestamp: day(first + i), Value: v})
	}
	return s
}

// constant builds a series with one sample every step in [from, to).
func constant(metric model.MetricType, from, to time.Time, step time.Duration, v float64) model.Series {
	s := model.Series{Metric: metric}
	for t := from; t.Before(to); t = t.Add(step) {
		s.Samples = append(s.Samples, model.CanonicalSample{Timestamp: t, Value: v})
	}
	return s
}

// night expands consecutive stage runs, in minutes, into 30-second epochs.
func night(start time.Time, runs ...run) model.Series {
	s := model.Series{Metric: model.MetricSleepStage}
	t := start
	for _, r := range runs {
		for k := 0; k < r.minutes*2; k++ {
			s.Samples = append(s.Samples, model.CanonicalSample{Timestamp: t, Value: float64(r.stage)})
			t = t.Add(model.SleepEpochSeconds * time.Second)
		}
	}
	return s
}

type run struct {
	stage   model.SleepStage
	minutes int
}

func profile() model.UserProfile {
	p, err := model.DefaultProfile().Validate()
	if err != nil {
		panic(err)
	}
	return p
}

func TestBaseline(t *testing.T) {
	Convey("Given daily values with a gap", t, func() {
		nan := math.NaN()
		values := []float64{nan, 10, 20, 30}

		Convey("A simple moving average uses present days in the window", func() {
			b := Baseline{Kind: model.BaselineSMA, Window: 3, MinPeriods: 2}
			v, err := b.At(values, 3)
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 20)

			_, err = b.At(values, 1)
			So(errors.Is(err, ErrInsufficientBaseline), ShouldBeTrue)
		})

		Convey("An exponential average is seeded with the first value", func() {
			b := Baseline{Kind: model.BaselineEMA, Window: 3, MinPeriods: 1}
			v, err := b.At(values, 3)
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 22.5)
		})

		Convey("Later days never change an earlier baseline", func() {
			b := Baseline{Kind: model.BaselineSMA, Window: 3, MinPeriods: 1}
			before, _ := b.At(values, 2)
			values[3] = 1000
			after, _ := b.At(values, 2)
			So(after, ShouldEqual, before)
		})

		Convey("An out of range day is insufficient", func() {
			_, err := Baseline{Window: 3, MinPeriods: 1}.At(values, 9)
			So(errors.Is(err, ErrInsufficientBaseline), ShouldBeTrue)
		})
	})
}

func TestAggregate(t *testing.T) {
	Convey("Given raw streams for one day", t, func() {
		in := Inputs{}

		hr := model.Series{Metric: model.MetricHeartRate}
		for i := 0; i < 40; i++ {
			hr.Samples = append(hr.Samples, model.CanonicalSample{
				Timestamp: day(5).Add(14*time.Hour + time.Duration(i)*time.Minute),
				Value:     float64(50 + i),
			})
		}
		in[model.MetricHeartRate] = hr

		in[model.MetricSteps] = model.Series{Metric: model.MetricSteps, Samples: []model.CanonicalSample{
			{Timestamp: day(5).Add(9 * time.Hour), Value: 100},
			{Timestamp: day(5).Add(10 * time.Hour), Value: 250},
			{Timestamp: day(5).Add(11 * time.Hour), Value: 999, HasQuality: true, Quality: 0},
		}}

		sleepStart := day(4).Add(23 * time.Hour)
		in[model.MetricSleepStage] = night(sleepStart,
			run{model.StageWake, 10}, run{model.StageLight, 60}, run{model.StageDeep, 30},
			run{model.StageWake, 5}, run{model.StageREM, 20}, run{model.StageWake, 15})

		ibi := model.Series{Metric: model.MetricIBI}
		for i := 0; i < 21; i++ {
			v := 1000.0
			if i%2 == 1 {
				v = 1020
			}
			ibi.Samples = append(ibi.Samples, model.CanonicalSample{
				Timestamp: sleepStart.Add(20*time.Minute + time.Duration(i)*time.Second),
				Value:     v,
			})
		}
		in[model.MetricIBI] = ibi

		aggs, err := Aggregate(in, time.UTC, day(5), day(5))
		So(err, ShouldBeNil)
		So(aggs, ShouldHaveLength, 1)
		a := aggs[0]

		Convey("Steps sum the usable samples of the local day", func() {
			So(a.Date, ShouldEqual, "2024-03-05")
			So(*a.Steps, ShouldEqual, 350.0)
		})

		Convey("Resting heart rate is derived from the lowest decile", func() {
			So(a.RestingHRSource, ShouldEqual, "derived")
			So(*a.RestingHR, ShouldAlmostEqual, 51.5)
		})

		Convey("Sleep is trimmed to the first and last asleep epoch", func() {
			So(a.Sleep, ShouldNotBeNil)
			So(a.Sleep.TotalMinutes, ShouldEqual, 110.0)
			So(a.Sleep.DeepMinutes, ShouldEqual, 30.0)
			So(a.Sleep.REMMinutes, ShouldEqual, 20.0)
			So(a.Sleep.WakeMinutes, ShouldEqual, 5.0)
			So(a.Sleep.Start, ShouldEqual, sleepStart.Add(10*time.Minute))
			So(a.Sleep.End, ShouldEqual, sleepStart.Add(125*time.Minute))
		})

		Convey("RMSSD is computed from interbeat intervals during sleep", func() {
			So(a.RMSSDSource, ShouldEqual, "derived")
			So(*a.RMSSD, ShouldAlmostEqual, 20)
		})

		Convey("Daily series take precedence over derived values", func() {
			in[model.MetricRestingHeartRate] = daily(model.MetricRestingHeartRate, 5, 58)
			in[model.MetricHRVRMSSD] = daily(model.MetricHRVRMSSD, 5, 41)
			in[model.MetricOfficialSleep] = daily(model.MetricOfficialSleep, 5, 77)
			aggs, err := Aggregate(in, time.UTC, day(5), day(5))
			So(err, ShouldBeNil)
			So(*aggs[0].RestingHR, ShouldEqual, 58.0)
			So(aggs[0].RestingHRSource, ShouldEqual, "daily")
			So(*aggs[0].RMSSD, ShouldEqual, 41.0)
			So(*aggs[0].Reference.Sleep, ShouldEqual, 77.0)
			So(aggs[0].Reference.Readiness, ShouldBeNil)
		})

		Convey("A day without data has nil fields rather than zeros", func() {
			aggs, err := Aggregate(in, time.UTC, day(9), day(9))
			So(err, ShouldBeNil)
			So(aggs[0].Steps, ShouldBeNil)
			So(aggs[0].Sleep, ShouldBeNil)
			So(aggs[0].RestingHR, ShouldBeNil)
		})

		Convey("A reversed range is rejected", func() {
			_, err := Aggregate(in, time.UTC, day(6), day(5))
			So(errors.Is(err, ErrInvalidRange), ShouldBeTrue)
		})
	})
}

func TestAggregateLocalDays(t *testing.T) {
	Convey("Given a profile timezone west of UTC", t, func() {
		loc, err := time.LoadLocation("America/New_York")
		So(err, ShouldBeNil)
		in := Inputs{model.MetricSteps: model.Series{Metric: model.MetricSteps, Samples: []model.CanonicalSample{
			{Timestamp: time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC), Value: 10}, // 22:00 on the 9th locally
			{Timestamp: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), Value: 20},
		}}}

		aggs, err := Aggregate(in, loc, time.Date(2024, 3, 9, 0, 0, 0, 0, loc), time.Date(2024, 3, 10, 0, 0, 0, 0, loc))

		Convey("Samples land on their local calendar day", func() {
			So(err, ShouldBeNil)
			So(aggs, ShouldHaveLength, 2)
			So(*aggs[0].Steps, ShouldEqual, 10.0)
			So(*aggs[1].Steps, ShouldEqual, 20.0)
			So(aggs[1].Day().Add(23*time.Hour), ShouldEqual, aggs[1].Day().AddDate(0, 0, 1))
		})
	})
}

func TestComponents(t *testing.T) {
	Convey("Ratio scores are clipped to 0..100", t, func() {
		So(ratioScore(1), ShouldEqual, 75.0)
		So(ratioScore(1.1), ShouldAlmostEqual, 85)
		So(ratioScore(2), ShouldEqual, 100.0)
		So(ratioScore(0), ShouldEqual, 0.0)
		So(ratioScore(math.NaN()), ShouldEqual, 0.0)
		So(ratioScore(math.Inf(1)), ShouldEqual, 100.0)
	})

	Convey("Fatigue falls linearly to 70 at the threshold and is penalized beyond it", t, func() {
		So(fatigueScore(0.8, 1.5), ShouldEqual, 100.0)
		So(fatigueScore(1.25, 1.5), ShouldAlmostEqual, 85)
		So(fatigueScore(1.5, 1.5), ShouldAlmostEqual, 70)
		So(fatigueScore(1.6, 1.5), ShouldAlmostEqual, 60)
		So(fatigueScore(3, 1.5), ShouldEqual, 0.0)
	})

	Convey("Duration rises linearly between the minimal sleep and the goal", t, func() {
		So(durationScore(120, 180, 480), ShouldEqual, 0.0)
		So(durationScore(420, 180, 480), ShouldAlmostEqual, 40)
		So(durationScore(600, 180, 480), ShouldEqual, 50.0)
	})

	Convey("Stage fractions score full marks inside the band", t, func() {
		b := model.Band{Low: 0.2, High: 0.3}
		So(bandScore(0.25, b), ShouldEqual, 12.5)
		So(bandScore(0.1, b), ShouldAlmostEqual, 6.25)
		So(bandScore(0.65, b), ShouldAlmostEqual, 6.25)
		So(bandScore(1, b), ShouldAlmostEqual, 0)
	})

	Convey("Composite renormalizes over present components", t, func() {
		c, partial := composite(
			weighted{scored(80, ""), 0.5},
			weighted{missing(), 0.3},
			weighted{scored(100, ""), 0.2},
		)
		So(c.OK(), ShouldBeTrue)
		So(*c.Score, ShouldAlmostEqual, 60/0.7)
		So(partial, ShouldBeTrue)

		Convey("and reports the marker when nothing is present", func() {
			c, _ := composite(weighted{missing(), 1}, weighted{Component{Status: StatusInsufficientBaseline}, 1})
			So(c.Score, ShouldBeNil)
			So(c.Status, ShouldEqual, StatusInsufficientBaseline)

			c, _ = composite(weighted{missing(), 1})
			So(c.Status, ShouldEqual, StatusMissing)
		})

		Convey("and ignores components with zero weight", func() {
			c, partial := composite(weighted{scored(40, ""), 1}, weighted{missing(), 0})
			So(*c.Score, ShouldEqual, 40.0)
			So(partial, ShouldBeFalse)
		})
	})
}

func TestSleepScore(t *testing.T) {
	Convey("Given 420 minutes of staged sleep, resting HR 55 and sleeping HR 48", t, func() {
		start := day(4).Add(23 * time.Hour)
		in := Inputs{
			model.MetricSleepStage: night(start,
				run{model.StageLight, 240}, run{model.StageDeep, 80}, run{model.StageREM, 100}),
			model.MetricHeartRate:        constant(model.MetricHeartRate, start, start.Add(420*time.Minute), time.Minute, 48),
			model.MetricRestingHeartRate: daily(model.MetricRestingHeartRate, 1, 55, 55, 55, 55, 55),
		}
		e := New(profile())

		scores, err := e.SleepScores(context.Background(), in, day(5), day(5))
		So(err, ShouldBeNil)
		So(scores, ShouldHaveLength, 1)
		s := scores[0]

		Convey("Each sub-score is computed and they sum to the composite", func() {
			So(s.Date, ShouldEqual, "2024-03-05")
			So(*s.Duration.Score, ShouldAlmostEqual, 40)
			So(*s.Quality.Score, ShouldAlmostEqual, 25)
			So(*s.Restoration.Score, ShouldAlmostEqual, 17.5)
			So(*s.Composite.Score, ShouldAlmostEqual, 82.5)
			So(s.Partial, ShouldBeFalse)
		})

		Convey("Without sleeping heart rate restoration is missing and the rest rescaled", func() {
			delete(in, model.MetricHeartRate)
			scores, err := e.SleepScores(context.Background(), in, day(5), day(5))
			So(err, ShouldBeNil)
			s := scores[0]
			So(s.Restoration.Status, ShouldEqual, StatusMissing)
			So(s.Restoration.Score, ShouldBeNil)
			So(s.Partial, ShouldBeTrue)
			So(*s.Composite.Score, ShouldAlmostEqual, 65*100/75.0)
		})

		Convey("With too little resting HR history restoration is insufficient", func() {
			delete(in, model.MetricRestingHeartRate)
			scores, _ := e.SleepScores(context.Background(), in, day(5), day(5))
			So(scores[0].Restoration.Status, ShouldEqual, StatusInsufficientBaseline)
		})

		Convey("A night without sleep is missing, not zero", func() {
			scores, err := e.SleepScores(context.Background(), in, day(8), day(8))
			So(err, ShouldBeNil)
			So(scores[0].Composite.Status, ShouldEqual, StatusMissing)
			So(scores[0].Composite.Score, ShouldBeNil)
		})
	})
}

func TestReadiness(t *testing.T) {
	Convey("Given a week of steady data and a rough last day", t, func() {
		p := profile()
		in := Inputs{
			model.MetricHRVRMSSD:         daily(model.MetricHRVRMSSD, 1, 40, 40, 40, 40, 40, 40, 44),
			model.MetricActivityCalories: daily(model.MetricActivityCalories, 1, 500, 500, 500, 500, 500, 500, 500),
			model.MetricActiveZoneMins:   daily(model.MetricActiveZoneMins, 1, 0, 0, 0, 0, 0, 0, 0),
		}
		e := New(p)

		out, err := e.Readiness(context.Background(), in, day(7), day(7))
		So(err, ShouldBeNil)
		So(out, ShouldHaveLength, 1)
		r := out[0]

		Convey("HRV above baseline scores above neutral", func() {
			So(r.HRV.OK(), ShouldBeTrue)
			So(r.HRV.Source, ShouldEqual, "rmssd")
			So(*r.HRV.Score, ShouldBeGreaterThan, 75)
			So(*r.HRV.Score, ShouldBeLessThanOrEqualTo, 100)
		})

		Convey("Steady load scores full fatigue marks", func() {
			So(*r.Fatigue.Score, ShouldEqual, 100.0)
			So(*r.ACWR, ShouldAlmostEqual, 1)
		})

		Convey("Missing sleep is excluded from the composite", func() {
			So(r.Sleep.Status, ShouldEqual, StatusMissing)
			So(r.Partial, ShouldBeTrue)
			hrv := *r.HRV.Score
			want := (p.ReadinessWeights.HRV*hrv + p.ReadinessWeights.Fatigue*100) /
				(p.ReadinessWeights.HRV + p.ReadinessWeights.Fatigue)
			So(*r.Composite.Score, ShouldAlmostEqual, want)
		})

		Convey("The first day has too little history for baselines", func() {
			out, err := e.Readiness(context.Background(), in, day(1), day(1))
			So(err, ShouldBeNil)
			So(out[0].HRV.Status, ShouldEqual, StatusInsufficientBaseline)
			So(out[0].Fatigue.Status, ShouldEqual, StatusInsufficientBaseline)
			So(out[0].Composite.Status, ShouldEqual, StatusInsufficientBaseline)
			So(out[0].Composite.Score, ShouldBeNil)
		})

		Convey("Resting HR stands in for missing RMSSD", func() {
			delete(in, model.MetricHRVRMSSD)
			in[model.MetricRestingHeartRate] = daily(model.MetricRestingHeartRate, 1, 60, 60, 60, 60, 60, 60, 60)
			out, err := e.Readiness(context.Background(), in, day(7), day(7))
			So(err, ShouldBeNil)
			So(out[0].HRV.Source, ShouldEqual, "resting_hr")
			So(*out[0].HRV.Score, ShouldAlmostEqual, 75)
		})

		Convey("A load spike is penalized", func() {
			load := make([]float64, 22)
			for i := range load {
				load[i] = 100
			}
			load[21] = 3000
			in[model.MetricActivityCalories] = daily(model.MetricActivityCalories, 1, load...)
			out, _ := e.Readiness(context.Background(), in, day(22), day(22))
			So(*out[0].ACWR, ShouldBeGreaterThan, p.ACWRThreshold)
			So(*out[0].Fatigue.Score, ShouldBeLessThan, 70)
		})

		Convey("Scores for a range match single-day queries", func() {
			all, err := e.Readiness(context.Background(), in, day(5), day(7))
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 3)
			So(*all[2].Composite.Score, ShouldAlmostEqual, *r.Composite.Score)
		})
	})

	Convey("Composites stay within bounds for pathological inputs", t, func() {
		e := New(profile())
		in := Inputs{
			model.MetricHRVRMSSD:         daily(model.MetricHRVRMSSD, 1, 0, 0, 0, 1e9),
			model.MetricRestingHeartRate: daily(model.MetricRestingHeartRate, 1, 1e9, 1e9, 1e9, 1),
			model.MetricActivityCalories: daily(model.MetricActivityCalories, 1, 0, 0, 0, 0, 0, 0, 0, 1e12),
		}
		out, err := e.Readiness(context.Background(), in, day(1), day(8))
		So(err, ShouldBeNil)
		for _, r := range out {
			if r.Composite.OK() {
				So(*r.Composite.Score, ShouldBeBetweenOrEqual, 0, 100)
			}
		}
	})
}

func TestEngineWindow(t *testing.T) {
	Convey("The load window covers the lookback and the prior evening", t, func() {
		e := New(profile())
		start, end := e.Window(day(30), day(31))
		So(e.Lookback(), ShouldEqual, 27)
		So(start, ShouldEqual, day(2))
		So(end, ShouldEqual, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	})
}
