package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

// counterValue sums the counters of family name that carry a label with value.
func counterValue(g prometheus.Gatherer, name, labelValue string) float64 {
	families, err := g.Gather()
	if err != nil {
		return -1
	}
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == labelValue {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry and custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.filesProcessed.WithLabelValues("heart_rate", "ok").Inc()

			Convey("Then its metrics are registered there with the custom names", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_files_processed_total"], ShouldBeTrue)
				So(counterValue(registry, "test_unit_files_processed_total", "ok"), ShouldEqual, 1)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global recorder functions", t, func() {
		Convey("Then they should not panic", func() {
			So(func() {
				RecordFileProcessed("steps", "ok")
				RecordSamplesExtracted("steps", 10)
				RecordSamplesFlagged("ambiguous_time", 0)
				RecordSamplesFlagged("ambiguous_time", 2)
				RecordDuplicatesCollapsed("steps", 3)
				RecordPartitionWrite("steps", "written", 1.5)
				RecordPartitionRead(0.3)
				UpdateQueueSize(1)
				UpdateQueueCapacity(8)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerActiveCount(2)
				RecordWorkerProcessingLatency(4)
				RecordWorkerError()
				RecordIngestRun("complete", 0.2)
				RecordScoredDay("readiness", "ok")
			}, ShouldNotPanic)
		})

		Convey("Then flagged samples accumulate", func() {
			before := counterValue(customRegistry, "vitals_ingest_samples_flagged_total", "quality_out_of_range")
			RecordSamplesFlagged("quality_out_of_range", 4)
			after := counterValue(customRegistry, "vitals_ingest_samples_flagged_total", "quality_out_of_range")
			So(after-before, ShouldEqual, 4)
		})
	})
}

func TestWriteTextfile(t *testing.T) {
	Convey("Given recorded metrics", t, func() {
		RecordFileProcessed("sleep", "ok")
		path := filepath.Join(t.TempDir(), "vitals.prom")

		Convey("When the registry is written as a textfile", func() {
			err := WriteTextfile(path)

			Convey("Then the file holds the exposition format", func() {
				So(err, ShouldBeNil)
				data, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				So(strings.Contains(string(data), "vitals_ingest_files_processed_total"), ShouldBeTrue)
			})
		})

		Convey("When the target directory does not exist", func() {
			err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))

			Convey("Then the export fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
