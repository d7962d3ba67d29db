package service

import (
	"sort"
	"time"

	"github.com/okian/vitals/internal/domain/model"
)

// Run statuses recorded in the catalog and the metrics.
const (
	RunOK       = "ok"
	RunPartial  = "partial"
	RunFailed   = "failed"
	RunCanceled = "canceled"
)

// Batch statuses in the report. Complete and partial match the catalog.
const (
	BatchSkipped     = "skipped"
	BatchComplete    = "complete"
	BatchPartial     = "partial"
	BatchUnreadable  = "unreadable"
	BatchInterrupted = "interrupted"
)

// BatchReport summarizes one batch of a run.
type BatchReport struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Files       int    `json:"files"`
	Samples     int    `json:"samples"`
}

// Report is the manifest of one ingestion run.
type Report struct {
	RunID               string          `json:"run_id"`
	Status              string          `json:"status"`
	Batches             []BatchReport   `json:"batches"`
	Files               int             `json:"files"`
	Samples             int             `json:"samples"`
	Flagged             int             `json:"flagged"`
	Ambiguous           int             `json:"ambiguous"`
	Nonexistent         int             `json:"nonexistent"`
	Collapsed           int             `json:"collapsed"`
	Overridden          int             `json:"overridden"`
	PartitionsWritten   int             `json:"partitions_written"`
	PartitionsUnchanged int             `json:"partitions_unchanged"`
	Failures            []model.Failure `json:"failures"`
	Duration            time.Duration   `json:"duration_ns"`
}

// Batch returns the report of batch id.
func (r *Report) Batch(id string) (BatchReport, bool) {
	for _, b := range r.Batches {
		if b.ID == id {
			return b, true
		}
	}
	return BatchReport{}, false
}

func (r *Report) sortFailures() {
	sort.SliceStable(r.Failures, func(i, j int) bool {
		a, b := r.Failures[i], r.Failures[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Kind < b.Kind
	})
}

// status derives the run status from what happened.
func (r *Report) status(err error) string {
	switch {
	case err != nil:
		return RunFailed
	case len(r.Failures) > 0:
		return RunPartial
	default:
		return RunOK
	}
}
