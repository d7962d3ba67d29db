package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/vitals/internal/adapters/catalog"
	"github.com/okian/vitals/internal/adapters/mq/queue"
	"github.com/okian/vitals/internal/adapters/mq/worker"
	"github.com/okian/vitals/internal/adapters/repository"
	"github.com/okian/vitals/internal/domain/dedupe"
	"github.com/okian/vitals/internal/domain/extract"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
)

// collector buffers resolved samples per partition until the files that
// can reach the partition have been parsed. It is the Sink of the worker
// pool.
type collector struct {
	mu      sync.Mutex
	buckets map[model.PartitionKey][][]model.ResolvedSample
	touched map[model.PartitionKey]map[string]struct{}
	perFile map[string]*BatchReport
	report  *Report
}

func newCollector(r *Report, batches map[string]*BatchReport) *collector {
	return &collector{
		buckets: map[model.PartitionKey][][]model.ResolvedSample{},
		touched: map[model.PartitionKey]map[string]struct{}{},
		perFile: batches,
		report:  r,
	}
}

// Accept implements worker.Sink.
func (c *collector) Accept(_ context.Context, r worker.Result) {
	split := map[model.PartitionKey][]model.ResolvedSample{}
	var flagged, ambiguous, nonexistent int
	for _, s := range r.Samples {
		key := model.KeyFor(s.Metric, s.Timestamp)
		split[key] = append(split[key], s)
		switch {
		case s.Flags.Has(model.FlagAmbiguousTime):
			ambiguous++
		case s.Flags.Has(model.FlagNonexistentTime):
			nonexistent++
		}
		if s.Flags.Has(model.FlagQualityOutOfRange) {
			flagged++
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, samples := range split {
		c.buckets[key] = append(c.buckets[key], samples)
		if c.touched[key] == nil {
			c.touched[key] = map[string]struct{}{}
		}
		c.touched[key][r.Source.Batch] = struct{}{}
	}
	c.report.Files++
	c.report.Samples += len(r.Samples)
	c.report.Flagged += flagged
	c.report.Ambiguous += ambiguous
	c.report.Nonexistent += nonexistent
	c.report.Failures = append(c.report.Failures, r.Failures...)
	if b := c.perFile[r.Source.Batch]; b != nil {
		b.Samples += len(r.Samples)
	}
}

// drain removes and returns the buckets whose month starts before cutoff,
// or every bucket when cutoff is zero.
func (c *collector) drain(cutoff time.Time) map[model.PartitionKey][][]model.ResolvedSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[model.PartitionKey][][]model.ResolvedSample{}
	for key, b := range c.buckets {
		if cutoff.IsZero() || key.Start().Before(cutoff) {
			out[key] = b
			delete(c.buckets, key)
		}
	}
	return out
}

func sortedKeys(buckets map[model.PartitionKey][][]model.ResolvedSample) []model.PartitionKey {
	keys := make([]model.PartitionKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b model.PartitionKey) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return keys
}

// monthGroup holds the sources whose file date falls in one month.
type monthGroup struct {
	month   time.Time // zero for sources without a file date
	sources []extract.Source
}

// byFileMonth groups sources by file date month: undated sources first,
// then chronologically.
func byFileMonth(sources []extract.Source) []monthGroup {
	idx := map[time.Time]int{}
	var groups []monthGroup
	for _, src := range sources {
		var month time.Time
		if d := src.FileDate; !d.IsZero() {
			month = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
		i, ok := idx[month]
		if !ok {
			i = len(groups)
			idx[month] = i
			groups = append(groups, monthGroup{month: month})
		}
		groups[i].sources = append(groups[i].sources, src)
	}
	slices.SortFunc(groups, func(a, b monthGroup) int { return a.month.Compare(b.month) })
	return groups
}

// recencyOrder ranks the batches of this run together with every batch the
// catalog already knows, so samples stored by earlier runs keep their rank.
func (s *Service) recencyOrder(ctx context.Context, batches []model.Batch) (model.BatchOrder, error) {
	if _, err := model.NewBatchOrder(batches); err != nil {
		return model.BatchOrder{}, err
	}
	known, err := s.catalog.Batches(ctx)
	if err != nil {
		return model.BatchOrder{}, err
	}
	byID := make(map[string]model.Batch, len(known)+len(batches))
	for _, r := range known {
		byID[r.ID] = r.Batch()
	}
	for _, b := range batches {
		byID[b.ID] = b
	}
	all := make([]model.Batch, 0, len(byID))
	for _, b := range byID {
		all = append(all, b)
	}
	slices.SortFunc(all, func(a, b model.Batch) int { return a.ExportedAt.Compare(b.ExportedAt) })
	return model.NewBatchOrder(all)
}

// Ingest reads batches into the canonical store. Per-file problems are
// collected in the report; only invalid batch ordering, a corrupt stored
// partition or cancellation end the run with an error. A batch whose
// sources are unchanged since a complete ingestion is skipped unless force
// is set; the store ends up identical either way.
func (s *Service) Ingest(ctx context.Context, batches []model.Batch, force bool) (*Report, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	log := s.logger.Named("pipeline")
	started := time.Now()

	runID, err := s.catalog.StartRun(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: runID, Failures: []model.Failure{}}
	log = log.With(logger.String("run_id", runID))

	var (
		ids      []string
		all      = map[string]*BatchReport{}
		perBatch = map[string]*BatchReport{}
		jobs     []extract.Source
	)

	finish := func(status string, runErr error) (*Report, error) {
		report.Status = status
		report.Batches = make([]BatchReport, 0, len(ids))
		for _, id := range ids {
			br := *all[id]
			if br.Status == "" {
				br.Status = BatchInterrupted
			}
			report.Batches = append(report.Batches, br)
		}
		report.Duration = time.Since(started)
		report.sortFailures()
		// The run row is closed even when ctx was canceled.
		if err := s.catalog.FinishRun(context.WithoutCancel(ctx), runID, status, report.Failures); err != nil {
			log.Error(ctx, "failed to record run", logger.Error(err))
			runErr = errors.Join(runErr, err)
		}
		metrics.RecordIngestRun(status, elapsedSeconds(started))
		s.exportMetrics(ctx)
		log.Info(ctx, "ingestion finished",
			logger.String("status", status),
			logger.Int("files", report.Files),
			logger.Int("samples", report.Samples),
			logger.Int("collapsed", report.Collapsed),
			logger.Int("partitions_written", report.PartitionsWritten),
			logger.Int("partitions_unchanged", report.PartitionsUnchanged),
			logger.Int("failures", len(report.Failures)),
			logger.Duration("took", report.Duration),
		)
		return report, runErr
	}

	order, err := s.recencyOrder(ctx, batches)
	if err != nil {
		return finish(RunFailed, fmt.Errorf("batch order: %w", err))
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return finish(RunCanceled, err)
		}
		br := &BatchReport{ID: b.ID}
		ids = append(ids, b.ID)
		all[b.ID] = br

		sources, failures, err := s.extractor.Discover(ctx, b)
		if err != nil {
			br.Status = BatchUnreadable
			report.Failures = append(report.Failures, model.NewFailure(model.FailureUnreadable, b.ID, b.Path, err))
			log.Warn(ctx, "unreadable batch", logger.String("batch", b.ID), logger.Error(err))
			continue
		}
		report.Failures = append(report.Failures, failures...)
		br.Fingerprint = extract.Fingerprint(sources)
		br.Files = len(sources)

		if !force {
			fresh, err := s.catalog.UpToDate(ctx, b.ID, br.Fingerprint)
			if err != nil {
				return finish(RunFailed, err)
			}
			if fresh {
				br.Status = BatchSkipped
				log.Info(ctx, "batch unchanged, skipping", logger.String("batch", b.ID))
				continue
			}
		}
		if err := s.catalog.RegisterBatch(ctx, b, br.Fingerprint); err != nil {
			return finish(RunFailed, err)
		}
		jobs = append(jobs, sources...)
		perBatch[b.ID] = br
	}

	// Files are parsed one file-date month at a time. A file's samples can
	// fall into the month before its date once resolved to UTC, so after
	// each group the buckets older than the month before the next group are
	// complete and flushed. Samples that still reach a flushed partition are
	// merged into it by a later flush.
	coll := newCollector(report, perBatch)
	failedKeys := map[model.PartitionKey]struct{}{}
	groups := byFileMonth(jobs)
	for i, g := range groups {
		if err := s.parse(ctx, g.sources, coll); err != nil {
			return finish(RunCanceled, err)
		}
		var cutoff time.Time
		if i+1 < len(groups) {
			cutoff = groups[i+1].month.AddDate(0, -1, 0)
		}
		ready := coll.drain(cutoff)
		log.Debug(ctx, "flushing partitions",
			logger.Time("file_month", g.month),
			logger.Int("files", len(g.sources)),
			logger.Int("partitions", len(ready)),
		)
		failed, err := s.writePartitions(ctx, order, ready, report)
		maps.Copy(failedKeys, failed)
		if err != nil {
			if ctx.Err() != nil {
				return finish(RunCanceled, err)
			}
			return finish(RunFailed, err)
		}
	}

	for id, br := range perBatch {
		status := catalog.BatchComplete
		for key := range failedKeys {
			if _, ok := coll.touched[key][id]; ok {
				status = catalog.BatchPartial
				break
			}
		}
		br.Status = string(status)
		if err := s.catalog.FinishBatch(ctx, id, status, br.Files, br.Samples); err != nil {
			return finish(RunFailed, err)
		}
	}
	return finish(report.status(nil), nil)
}

// parse runs every source through the worker pool and waits for the pool
// to drain.
func (s *Service) parse(ctx context.Context, jobs []extract.Source, sink worker.Sink) error {
	q := queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.QueueSize))
	pool := worker.NewPool(s.cfg.WorkerCount, q, s.extractor, sink,
		worker.WithLogger(s.logger.Named("worker")),
		worker.WithLocation(s.cfg.Profile.Location()),
	)
	pool.Start(ctx)

	var putErr error
	for _, j := range jobs {
		if putErr = q.Put(ctx, j); putErr != nil {
			break
		}
	}
	_ = q.Close()
	pool.Wait()

	if putErr != nil {
		return putErr
	}
	return ctx.Err()
}

// writePartitions merges every bucket with its stored partition and writes
// it back, write_concurrency partitions at a time. A failed write only
// affects its own partition; a corrupt stored partition stops the run.
func (s *Service) writePartitions(ctx context.Context, order model.BatchOrder, buckets map[model.PartitionKey][][]model.ResolvedSample, report *Report) (map[model.PartitionKey]struct{}, error) {
	log := s.logger.Named("pipeline")
	var mu sync.Mutex
	failed := map[model.PartitionKey]struct{}{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.WriteConcurrency)
	for _, key := range sortedKeys(buckets) {
		incoming := buckets[key]
		g.Go(func() error {
			existing, err := s.store.ReadPartition(gctx, key)
			if err != nil {
				if errors.Is(err, repository.ErrCorruptPartition) || gctx.Err() != nil {
					return err
				}
				mu.Lock()
				failed[key] = struct{}{}
				report.Failures = append(report.Failures, model.NewFailure(model.FailurePartitionWrite, "", key.String(), err))
				mu.Unlock()
				log.Error(gctx, "partition read failed", logger.String("partition", key.String()), logger.Error(err))
				return nil
			}

			merged, stats := dedupe.Merge(order, existing, incoming...)
			metrics.RecordDuplicatesCollapsed(string(key.Metric), stats.Collapsed)

			changed, err := s.store.Write(gctx, key, merged)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				failed[key] = struct{}{}
				report.Failures = append(report.Failures, model.NewFailure(model.FailurePartitionWrite, "", key.String(), err))
				log.Error(gctx, "partition write failed", logger.String("partition", key.String()), logger.Error(err))
				return nil
			}
			report.Collapsed += stats.Collapsed
			report.Overridden += stats.Overridden
			if changed {
				report.PartitionsWritten++
			} else {
				report.PartitionsUnchanged++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, nil
}

func (s *Service) exportMetrics(ctx context.Context) {
	if s.cfg.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
		s.logger.Warn(ctx, "metrics export failed", logger.String("path", s.cfg.MetricsFile), logger.Error(err))
	}
}
