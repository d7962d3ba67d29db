package model

import (
	"fmt"
	"sort"
	"time"
)

// Series is a canonical, strictly time-ordered sequence for one metric.
type Series struct {
	Metric  MetricType
	Samples []CanonicalSample
}

// Len returns the number of samples.
func (s Series) Len() int { return len(s.Samples) }

// Validate checks the strictly-increasing, duplicate-free invariant.
func (s Series) Validate() error {
	for i := 1; i < len(s.Samples); i++ {
		if !s.Samples[i-1].Timestamp.Before(s.Samples[i].Timestamp) {
			return fmt.Errorf("%w: %s at index %d (%s !< %s)", ErrNotStrictlyOrdered, s.Metric, i,
				s.Samples[i-1].Timestamp.Format(time.RFC3339Nano), s.Samples[i].Timestamp.Format(time.RFC3339Nano))
		}
	}
	return nil
}

// Range returns the samples with start <= t < end. The result shares the
// backing array with s.
func (s Series) Range(start, end time.Time) Series {
	lo := sort.Search(len(s.Samples), func(i int) bool { return !s.Samples[i].Timestamp.Before(start) })
	hi := sort.Search(len(s.Samples), func(i int) bool { return !s.Samples[i].Timestamp.Before(end) })
	if hi < lo {
		hi = lo
	}
	return Series{Metric: s.Metric, Samples: s.Samples[lo:hi]}
}

// Bounds returns the first and last timestamps. ok is false for an empty series.
func (s Series) Bounds() (first, last time.Time, ok bool) {
	if len(s.Samples) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.Samples[0].Timestamp, s.Samples[len(s.Samples)-1].Timestamp, true
}

// Concat appends series that are already ordered relative to each other.
func Concat(metric MetricType, parts ...Series) Series {
	n := 0
	for _, p := range parts {
		n += len(p.Samples)
	}
	out := Series{Metric: metric, Samples: make([]CanonicalSample, 0, n)}
	for _, p := range parts {
		out.Samples = append(out.Samples, p.Samples...)
	}
	return out
}
