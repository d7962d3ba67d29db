package model

import (
	"errors"
	"time"
)

// Flags annotate a sample without changing its value.
type Flags uint8

const (
	// FlagQualityOutOfRange marks a quality value outside 0..3. The sample is kept.
	FlagQualityOutOfRange Flags = 1 << iota
	// FlagAmbiguousTime marks a wall time that occurred twice (DST fall back).
	FlagAmbiguousTime
	// FlagNonexistentTime marks a wall time skipped by a DST gap.
	FlagNonexistentTime
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// TimeErr returns the DST resolutions recorded in f as
// ErrAmbiguousTimestamp and ErrNonexistentTimestamp, or nil.
func (f Flags) TimeErr() error {
	var errs []error
	if f.Has(FlagAmbiguousTime) {
		errs = append(errs, ErrAmbiguousTimestamp)
	}
	if f.Has(FlagNonexistentTime) {
		errs = append(errs, ErrNonexistentTimestamp)
	}
	return errors.Join(errs...)
}

// Quality bounds for vendor confidence values.
const (
	MinQuality = 0
	MaxQuality = 3
)

// QualityInRange reports whether q is a valid confidence value.
func QualityInRange(q int) bool { return q >= MinQuality && q <= MaxQuality }

// RawSample is one record as found in an export file. Wall is naive: its
// location is meaningless unless Absolute is set.
type RawSample struct {
	Metric MetricType
	// Wall is the record's wall clock time. When HasDate is false only the
	// clock part is meaningful and FileDate supplies the calendar date.
	Wall    time.Time
	HasDate bool
	// Absolute records carried an explicit UTC offset; Wall is then an instant.
	Absolute bool
	// FileDate is the date embedded in the source file name (zero if none).
	FileDate time.Time
	// Elapsed is added after Wall is anchored. Sleep epochs share their
	// stage event's wall time and differ only here.
	Elapsed time.Duration

	Value      float64
	Quality    int
	HasQuality bool
	Flags      Flags

	Batch  string
	Source string
}

// ResolvedSample is a RawSample anchored to an absolute instant.
type ResolvedSample struct {
	Metric     MetricType
	Timestamp  time.Time
	Value      float64
	Quality    int
	HasQuality bool
	Flags      Flags
	Batch      string
}

// Canonical drops the resolution-only fields.
func (r ResolvedSample) Canonical() CanonicalSample {
	return CanonicalSample{
		Timestamp:  r.Timestamp,
		Value:      r.Value,
		Quality:    r.Quality,
		HasQuality: r.HasQuality,
		Batch:      r.Batch,
	}
}

// CanonicalSample is one point of a canonical series. Batch records which
// export batch the surviving value came from.
type CanonicalSample struct {
	Timestamp  time.Time
	Value      float64
	Quality    int
	HasQuality bool
	Batch      string
}

// Equal compares samples by instant, value, quality and batch.
func (c CanonicalSample) Equal(o CanonicalSample) bool {
	return c.Timestamp.Equal(o.Timestamp) &&
		c.Value == o.Value &&
		c.HasQuality == o.HasQuality &&
		(!c.HasQuality || c.Quality == o.Quality) &&
		c.Batch == o.Batch
}

// QualityOK reports whether the sample is usable for scoring: either no
// confidence was reported or it is within range and above zero.
func (c CanonicalSample) QualityOK() bool {
	if !c.HasQuality {
		return true
	}
	return c.Quality > MinQuality && c.Quality <= MaxQuality
}
