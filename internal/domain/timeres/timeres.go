// Package timeres anchors naive export timestamps to absolute instants.
//
// Resolution is a pure per-sample function of the raw sample and the
// profile's location, so callers may resolve samples in any order and on
// any number of goroutines.
package timeres

import (
	"fmt"
	"time"

	"github.com/okian/vitals/internal/domain/model"
)

// offsetSpan is how far either side of a wall time zone offsets are sampled.
// Zone transitions are assumed to be more than one span apart.
const offsetSpan = 12 * time.Hour

// Resolve converts raw into a resolved sample in loc. Wall times that occur
// twice resolve to the earlier instant and are flagged FlagAmbiguousTime;
// wall times inside a DST gap resolve to the earlier of the two offset
// readings and are flagged FlagNonexistentTime.
func Resolve(raw model.RawSample, loc *time.Location) (model.ResolvedSample, error) {
	if loc == nil {
		loc = time.UTC
	}
	out := model.ResolvedSample{
		Metric:     raw.Metric,
		Value:      raw.Value,
		Quality:    raw.Quality,
		HasQuality: raw.HasQuality,
		Flags:      raw.Flags,
		Batch:      raw.Batch,
	}

	if raw.Absolute {
		out.Timestamp = raw.Wall.UTC().Add(raw.Elapsed)
		return out, nil
	}

	wall, err := wallClock(raw)
	if err != nil {
		return model.ResolvedSample{}, err
	}
	ts, flags := Localize(wall, loc)
	out.Timestamp = ts.Add(raw.Elapsed)
	out.Flags |= flags
	return out, nil
}

// wallClock combines the file date with the record's clock when needed.
func wallClock(raw model.RawSample) (time.Time, error) {
	if raw.HasDate {
		return raw.Wall, nil
	}
	if raw.FileDate.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %s record has only a clock time (%s) and its file name carries no date",
			model.ErrUnresolvableTime, raw.Metric, raw.Wall.Format("15:04:05"))
	}
	y, m, d := raw.FileDate.Date()
	return time.Date(y, m, d, raw.Wall.Hour(), raw.Wall.Minute(), raw.Wall.Second(), raw.Wall.Nanosecond(), time.UTC), nil
}

// Localize interprets the wall clock fields of wall (its location is
// ignored) as a local time in loc and returns the absolute instant in UTC.
func Localize(wall time.Time, loc *time.Location) (time.Time, model.Flags) {
	y, mo, d := wall.Date()
	h, mi, s := wall.Clock()
	ns := wall.Nanosecond()
	naive := time.Date(y, mo, d, h, mi, s, ns, time.UTC)

	guess := time.Date(y, mo, d, h, mi, s, ns, loc)
	offsets := candidateOffsets(guess)

	var valid []time.Time
	for _, off := range offsets {
		t := naive.Add(-time.Duration(off) * time.Second)
		if sameWall(t.In(loc), naive) {
			valid = append(valid, t)
		}
	}

	switch len(valid) {
	case 1:
		return valid[0].UTC(), 0
	case 0:
		// DST gap: every offset reading maps elsewhere; take the earliest.
		earliest := naive.Add(-time.Duration(offsets[0]) * time.Second)
		for _, off := range offsets[1:] {
			if t := naive.Add(-time.Duration(off) * time.Second); t.Before(earliest) {
				earliest = t
			}
		}
		return earliest.UTC(), model.FlagNonexistentTime
	default:
		earliest := valid[0]
		for _, t := range valid[1:] {
			if t.Before(earliest) {
				earliest = t
			}
		}
		return earliest.UTC(), model.FlagAmbiguousTime
	}
}

// candidateOffsets returns the distinct UTC offsets in effect around t.
func candidateOffsets(t time.Time) []int {
	var out []int
	for _, at := range []time.Time{t.Add(-offsetSpan), t, t.Add(offsetSpan)} {
		_, off := at.Zone()
		seen := false
		for _, o := range out {
			if o == off {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, off)
		}
	}
	return out
}

func sameWall(local, naive time.Time) bool {
	y1, m1, d1 := local.Date()
	y2, m2, d2 := naive.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 &&
		local.Hour() == naive.Hour() && local.Minute() == naive.Minute() &&
		local.Second() == naive.Second() && local.Nanosecond() == naive.Nanosecond()
}

// ResolveAll resolves a file's samples. Samples that cannot be anchored are
// dropped and the first such error is returned alongside the rest.
func ResolveAll(raws []model.RawSample, loc *time.Location) ([]model.ResolvedSample, error) {
	out := make([]model.ResolvedSample, 0, len(raws))
	var firstErr error
	dropped := 0
	for i := range raws {
		r, err := Resolve(raws[i], loc)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			dropped++
			continue
		}
		out = append(out, r)
	}
	if firstErr != nil {
		return out, fmt.Errorf("%d of %d samples unresolvable: %w", dropped, len(raws), firstErr)
	}
	return out, nil
}
