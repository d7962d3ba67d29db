// Package dedupe merges overlapping samples into canonical series.
//
// Merging is a pure function of its inputs: the stored series and any
// number of incoming sample slices, ranked by an explicit batch order.
// Where several samples share a timestamp the one from the most recent
// batch survives; duplicates within one batch resolve to the largest
// (value, quality) pair so the outcome never depends on input order. A
// batch read again replaces what it stored earlier.
package dedupe

import (
	"cmp"
	"slices"

	"github.com/okian/vitals/internal/domain/model"
)

// Stats describes one merge.
type Stats struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	Collapsed  int `json:"collapsed"`  // samples dropped as duplicates
	Overridden int `json:"overridden"` // stored samples replaced by a different winner
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Input += o.Input
	s.Output += o.Output
	s.Collapsed += o.Collapsed
	s.Overridden += o.Overridden
}

// Merge combines existing with incoming. All samples must belong to the
// same metric; the result's metric is existing's, or the first incoming
// sample's when existing is empty. existing must already be canonical.
// Incoming samples are collapsed among themselves first; a batch that is
// read again then replaces its own stored samples at the same timestamps.
func Merge(order model.BatchOrder, existing model.Series, incoming ...[]model.ResolvedSample) (model.Series, Stats) {
	metric := existing.Metric
	n := len(existing.Samples)
	var fresh []model.CanonicalSample
	for _, in := range incoming {
		n += len(in)
		if metric == "" && len(in) > 0 {
			metric = in[0].Metric
		}
		for i := range in {
			fresh = append(fresh, in[i].Canonical())
		}
	}

	slices.SortFunc(fresh, func(a, b model.CanonicalSample) int {
		return compare(order, a, b)
	})
	fresh = collapse(fresh)

	stored := existing.Samples
	out := make([]model.CanonicalSample, 0, len(stored)+len(fresh))
	i, j := 0, 0
	for i < len(stored) || j < len(fresh) {
		switch {
		case j == len(fresh) || (i < len(stored) && stored[i].Timestamp.Before(fresh[j].Timestamp)):
			out = append(out, stored[i])
			i++
		case i == len(stored) || fresh[j].Timestamp.Before(stored[i].Timestamp):
			out = append(out, fresh[j])
			j++
		default:
			win := fresh[j]
			if stored[i].Batch != win.Batch && order.Newer(stored[i].Batch, win.Batch) {
				win = stored[i]
			}
			out = append(out, win)
			i++
			j++
		}
	}

	stats := Stats{Input: n, Output: len(out), Collapsed: n - len(out)}
	stats.Overridden = overridden(stored, out)
	return model.Series{Metric: metric, Samples: out}, stats
}

// collapse keeps the last sample of each timestamp run of a sorted slice.
func collapse(all []model.CanonicalSample) []model.CanonicalSample {
	out := all[:0]
	for i := range all {
		if i == len(all)-1 || !all[i+1].Timestamp.Equal(all[i].Timestamp) {
			out = append(out, all[i])
		}
	}
	return slices.Clip(out)
}

// compare orders by timestamp, then batch recency, then value and quality.
// The last sample of each timestamp run wins.
func compare(order model.BatchOrder, a, b model.CanonicalSample) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	if a.Batch != b.Batch {
		if order.Newer(a.Batch, b.Batch) {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	if a.HasQuality != b.HasQuality {
		if a.HasQuality {
			return 1
		}
		return -1
	}
	return cmp.Compare(a.Quality, b.Quality)
}

// overridden counts stored samples whose timestamp survived with a
// different sample. Both slices are sorted by timestamp.
func overridden(before, after []model.CanonicalSample) int {
	n, j := 0, 0
	for _, old := range before {
		for j < len(after) && after[j].Timestamp.Before(old.Timestamp) {
			j++
		}
		if j < len(after) && after[j].Timestamp.Equal(old.Timestamp) && !after[j].Equal(old) {
			n++
		}
	}
	return n
}
