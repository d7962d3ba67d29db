package dedupe

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/vitals/internal/domain/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hr(batch string, minute int, value float64) model.ResolvedSample {
	return model.ResolvedSample{
		Metric:    model.MetricHeartRate,
		Timestamp: t0.Add(time.Duration(minute) * time.Minute),
		Value:     value,
		Batch:     batch,
	}
}

// daySpan emits one sample per day at noon for [fromDay, toDay].
func daySpan(batch string, fromDay, toDay int, value float64) []model.ResolvedSample {
	var out []model.ResolvedSample
	for d := fromDay; d <= toDay; d++ {
		out = append(out, model.ResolvedSample{
			Metric:    model.MetricRestingHeartRate,
			Timestamp: t0.AddDate(0, 0, d-1).Add(12 * time.Hour),
			Value:     value,
			Batch:     batch,
		})
	}
	return out
}

func TestMergeOverlappingBatches(t *testing.T) {
	Convey("Given batch A covering January and a newer batch B overlapping its second half", t, func() {
		order := model.OrderOf("A", "B")
		a := daySpan("A", 1, 31, 60)
		b := daySpan("B", 15, 45, 55)

		Convey("When they are merged in either order", func() {
			ab, stats := Merge(order, model.Series{}, a, b)
			ba, _ := Merge(order, model.Series{}, b, a)

			Convey("Then the overlap takes B's values and the result is order independent", func() {
				So(ab.Validate(), ShouldBeNil)
				So(ab.Metric, ShouldEqual, model.MetricRestingHeartRate)
				So(ab.Len(), ShouldEqual, 45)
				So(ab.Samples, ShouldResemble, ba.Samples)
				for i, s := range ab.Samples {
					if i < 14 {
						So(s.Batch, ShouldEqual, "A")
						So(s.Value, ShouldEqual, 60.0)
					} else {
						So(s.Batch, ShouldEqual, "B")
						So(s.Value, ShouldEqual, 55.0)
					}
				}
				So(stats.Input, ShouldEqual, 62)
				So(stats.Output, ShouldEqual, 45)
				So(stats.Collapsed, ShouldEqual, 17)
			})
		})

		Convey("When A is stored first and B merged later", func() {
			stored, _ := Merge(order, model.Series{}, a)
			merged, stats := Merge(order, stored, b)

			Convey("Then B overrides the stored overlap", func() {
				So(merged.Len(), ShouldEqual, 45)
				So(stats.Overridden, ShouldEqual, 17)
			})
		})

		Convey("When B is stored first and the older A is merged later", func() {
			stored, _ := Merge(order, model.Series{}, b)
			merged, stats := Merge(order, stored, a)
			direct, _ := Merge(order, model.Series{}, a, b)

			Convey("Then the stored newer values survive", func() {
				So(merged.Samples, ShouldResemble, direct.Samples)
				So(stats.Overridden, ShouldEqual, 0)
			})
		})
	})
}

func TestMergeIdempotent(t *testing.T) {
	Convey("Given a merged series", t, func() {
		order := model.OrderOf("A")
		in := []model.ResolvedSample{hr("A", 2, 70), hr("A", 0, 60), hr("A", 1, 65)}
		first, _ := Merge(order, model.Series{}, in)

		Convey("When the same samples are merged again", func() {
			second, stats := Merge(order, first, in)

			Convey("Then nothing changes", func() {
				So(second.Samples, ShouldResemble, first.Samples)
				So(stats.Overridden, ShouldEqual, 0)
				So(stats.Collapsed, ShouldEqual, 3)
			})
		})
	})
}

func TestMergeRereadBatch(t *testing.T) {
	Convey("Given a stored series from batch A", t, func() {
		order := model.OrderOf("A", "B")
		stored, _ := Merge(order, model.Series{}, []model.ResolvedSample{hr("A", 0, 62), hr("A", 1, 62), hr("B", 2, 80)})

		Convey("When A is read again with corrected values", func() {
			out, stats := Merge(order, stored, []model.ResolvedSample{hr("A", 0, 61), hr("A", 2, 50)})

			Convey("Then A's own samples are replaced but B's newer sample stays", func() {
				So(out.Len(), ShouldEqual, 3)
				So(out.Samples[0].Value, ShouldEqual, 61.0)
				So(out.Samples[1].Value, ShouldEqual, 62.0)
				So(out.Samples[2].Value, ShouldEqual, 80.0)
				So(out.Samples[2].Batch, ShouldEqual, "B")
				So(stats.Overridden, ShouldEqual, 1)
				So(out.Validate(), ShouldBeNil)
			})
		})
	})
}

func TestMergeTieBreaks(t *testing.T) {
	Convey("Given duplicates within one batch", t, func() {
		order := model.OrderOf("A")
		q := func(s model.ResolvedSample, quality int) model.ResolvedSample {
			s.Quality, s.HasQuality = quality, true
			return s
		}
		in := []model.ResolvedSample{hr("A", 0, 60), q(hr("A", 0, 62), 1), q(hr("A", 0, 62), 3), hr("A", 0, 61)}

		out1, _ := Merge(order, model.Series{}, in)
		out2, _ := Merge(order, model.Series{}, []model.ResolvedSample{in[3], in[2], in[1], in[0]})

		Convey("Then the largest value and quality wins regardless of input order", func() {
			So(out1.Len(), ShouldEqual, 1)
			So(out1.Samples[0].Value, ShouldEqual, 62.0)
			So(out1.Samples[0].Quality, ShouldEqual, 3)
			So(out1.Samples, ShouldResemble, out2.Samples)
		})
	})

	Convey("Given a batch missing from the order", t, func() {
		order := model.OrderOf("A")
		out, _ := Merge(order, model.Series{}, []model.ResolvedSample{hr("A", 0, 60), hr("zz", 0, 99)})

		Convey("Then the known batch wins", func() {
			So(out.Samples[0].Batch, ShouldEqual, "A")
		})
	})

	Convey("Given nothing to merge", t, func() {
		out, stats := Merge(model.OrderOf(), model.Series{Metric: model.MetricSteps})

		Convey("Then the result is empty", func() {
			So(out.Len(), ShouldEqual, 0)
			So(out.Metric, ShouldEqual, model.MetricSteps)
			So(stats, ShouldResemble, Stats{})
		})
	})
}

func TestStatsAdd(t *testing.T) {
	Convey("Given two stats", t, func() {
		s := Stats{Input: 1, Output: 1}
		s.Add(Stats{Input: 3, Output: 2, Collapsed: 1, Overridden: 1})
		So(s, ShouldResemble, Stats{Input: 4, Output: 3, Collapsed: 1, Overridden: 1})
	})
}
