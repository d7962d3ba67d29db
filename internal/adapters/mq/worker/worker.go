// Package worker parses and resolves queued export files in parallel.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/vitals/internal/adapters/mq/queue"
	"github.com/okian/vitals/internal/domain/extract"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/timeres"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
)

// Default worker configuration constants.
const (
	poolShutdownTimeout = 30 * time.Second
)

// Parser reads one export file into raw samples.
type Parser interface {
	Parse(ctx context.Context, src extract.Source) ([]model.RawSample, error)
}

// Result is the outcome of one file job.
type Result struct {
	Source    extract.Source
	Samples   []model.ResolvedSample
	Failures  []model.Failure
	Extracted int
}

// Sink receives job results. It is called concurrently from every worker.
type Sink interface {
	Accept(ctx context.Context, r Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Result)

// Accept implements Sink.
func (f SinkFunc) Accept(ctx context.Context, r Result) { f(ctx, r) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes file jobs until the queue is drained.
type Worker interface {
	// Run starts the worker loop until the queue closes or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current job.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for parsing and resolving files.
type InMemoryWorker struct {
	queue  Queue
	parser Parser
	sink   Sink
	loc    *time.Location
	name   string

	// Shutdown control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, parser Parser, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		parser:   parser,
		sink:     sink,
		loc:      time.UTC,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			w.process(ctx, job)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process parses one file, resolves its timestamps and hands the result on.
func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	res := Result{Source: job}
	raws, err := w.parser.Parse(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordWorkerError()
		metrics.RecordFileProcessed(string(job.Family), "failed")
		w.logger.Warn(ctx, "skipped file", logger.String("path", job.Path), logger.Error(err))
		res.Failures = append(res.Failures, extract.Failure(job, err))
		w.sink.Accept(ctx, res)
		return
	}
	res.Extracted = len(raws)

	resolved, err := timeres.ResolveAll(raws, w.loc)
	res.Samples = resolved
	status := "ok"
	if err != nil {
		status = "partial"
		w.logger.Warn(ctx, "dropped unresolvable samples", logger.String("path", job.Path), logger.Error(err))
		res.Failures = append(res.Failures, model.NewFailure(model.FailureTimestamp, job.Batch, job.Path, err))
	}

	if err := recordSamples(resolved); err != nil {
		w.logger.Warn(ctx, "resolved wall times across a DST transition",
			logger.String("path", job.Path), logger.Error(err))
	}
	metrics.RecordFileProcessed(string(job.Family), status)
	w.sink.Accept(ctx, res)
}

// recordSamples updates the sample metrics and returns the DST
// resolutions seen in samples.
func recordSamples(samples []model.ResolvedSample) error {
	perMetric := map[model.MetricType]int{}
	var quality, ambiguous, nonexistent int
	var seen model.Flags
	for i := range samples {
		perMetric[samples[i].Metric]++
		f := samples[i].Flags
		seen |= f
		if f.Has(model.FlagQualityOutOfRange) {
			quality++
		}
		if f.Has(model.FlagAmbiguousTime) {
			ambiguous++
		}
		if f.Has(model.FlagNonexistentTime) {
			nonexistent++
		}
	}
	for m, n := range perMetric {
		metrics.RecordSamplesExtracted(string(m), n)
	}
	metrics.RecordSamplesFlagged("quality_out_of_range", quality)
	metrics.RecordSamplesFlagged("ambiguous_time", ambiguous)
	metrics.RecordSamplesFlagged("nonexistent_time", nonexistent)
	return seen.TimeErr()
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	active  atomic.Int64
	wg      sync.WaitGroup
	logger  logger.Logger
}

// NewPool creates a worker pool. A non-positive count uses one worker per CPU.
func NewPool(workerCount int, q Queue, parser Parser, sink Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	tmpl := &InMemoryWorker{logger: logger.Nop()}
	for _, opt := range opts {
		opt(tmpl)
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  tmpl.logger.Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append(append([]Option(nil), opts...), WithName("worker-"+strconv.Itoa(i)))
		pool.workers[i] = NewInMemoryWorker(q, parser, sink, workerOpts...)
	}

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			metrics.UpdateWorkerActiveCount(int(p.active.Add(1)))
			defer func() { metrics.UpdateWorkerActiveCount(int(p.active.Add(-1))) }()
			w.Run(ctx)
		}(w)
	}
	p.logger.Debug(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Wait blocks until every worker has exited, normally after the queue was
// closed and drained.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown closes the queue and stops all workers after their current job.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		p.wg.Wait()
	}
	return firstErr
}
