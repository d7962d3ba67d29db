// Package metrics provides Prometheus metrics for the vitals ingestion pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the ingestion pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Extraction
	filesProcessed   *prometheus.CounterVec
	samplesExtracted *prometheus.CounterVec
	samplesFlagged   *prometheus.CounterVec

	// Merge & store
	duplicatesCollapsed   *prometheus.CounterVec
	partitionWrites       *prometheus.CounterVec
	partitionWriteLatency prometheus.Histogram
	partitionReadLatency  prometheus.Histogram

	// Queue Metrics - file job backlog
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics - Processing performance
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Runs and scoring
	ingestRuns     *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	scoredDays     *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "vitals",
		subsystem:        "ingest",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.filesProcessed = m.counterVec("files_processed_total",
		"Export files processed by family and outcome", "family", "status")
	m.samplesExtracted = m.counterVec("samples_extracted_total",
		"Raw samples extracted per metric", "metric")
	m.samplesFlagged = m.counterVec("samples_flagged_total",
		"Samples carrying a quality or timestamp flag", "flag")

	m.duplicatesCollapsed = m.counterVec("duplicates_collapsed_total",
		"Samples dropped while merging overlapping batches", "metric")
	m.partitionWrites = m.counterVec("partition_writes_total",
		"Partition write attempts by metric and outcome (written, unchanged, failed)", "metric", "status")
	m.partitionWriteLatency = m.histogram("partition_write_latency_milliseconds",
		"Partition encode and atomic replace latency in milliseconds")
	m.partitionReadLatency = m.histogram("partition_read_latency_milliseconds",
		"Partition read and decode latency in milliseconds")

	m.queueSize = m.gauge("queue_size", "Current number of queued file jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum number of queued file jobs")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of file jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of file jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of rejected enqueues")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running parse workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Per-file parse and resolve latency in milliseconds")
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of failed file jobs")

	m.ingestRuns = m.counterVec("runs_total", "Ingestion runs by final status", "status")
	m.ingestDuration = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "run_duration_seconds",
		Help:        "Ingestion run wall time in seconds",
		Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12),
		ConstLabels: m.customLabels,
	})
	m.scoredDays = m.counterVec("scored_days_total",
		"Days scored by score kind and component status", "score", "status")
}

// Extraction Metrics Functions.

// RecordFileProcessed counts one processed export file.
func RecordFileProcessed(family, status string) {
	globalManager.filesProcessed.WithLabelValues(family, status).Inc()
}

// RecordSamplesExtracted adds n extracted samples for metric.
func RecordSamplesExtracted(metric string, n int) {
	globalManager.samplesExtracted.WithLabelValues(metric).Add(float64(n))
}

// RecordSamplesFlagged adds n samples carrying flag.
func RecordSamplesFlagged(flag string, n int) {
	if n > 0 {
		globalManager.samplesFlagged.WithLabelValues(flag).Add(float64(n))
	}
}

// Store Metrics Functions.

// RecordDuplicatesCollapsed adds n collapsed duplicates for metric.
func RecordDuplicatesCollapsed(metric string, n int) {
	if n > 0 {
		globalManager.duplicatesCollapsed.WithLabelValues(metric).Add(float64(n))
	}
}

// RecordPartitionWrite counts a partition write and its latency.
func RecordPartitionWrite(metric, status string, latencyMs float64) {
	globalManager.partitionWrites.WithLabelValues(metric, status).Inc()
	globalManager.partitionWriteLatency.Observe(latencyMs)
}

// RecordPartitionRead records partition read latency.
func RecordPartitionRead(latencyMs float64) {
	globalManager.partitionReadLatency.Observe(latencyMs)
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Run and Scoring Metrics Functions.

// RecordIngestRun counts a finished run and its wall time.
func RecordIngestRun(status string, seconds float64) {
	globalManager.ingestRuns.WithLabelValues(status).Inc()
	globalManager.ingestDuration.Observe(seconds)
}

// RecordScoredDay counts one scored day for a score kind and status.
func RecordScoredDay(score, status string) {
	globalManager.scoredDays.WithLabelValues(score, status).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
// The file is replaced atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, customRegistry); err != nil {
		return fmt.Errorf("%w: %v", ErrTextfileExport, err)
	}
	return nil
}
