package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// stamp is a parsed timestamp field.
type stamp struct {
	wall     time.Time
	hasDate  bool
	absolute bool
}

var (
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"01/02/06 15:04:05",
		"01/02/2006 15:04:05",
		time.DateOnly,
		"01/02/2006",
		"01/02/06",
	}
	clockLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04"}
)

// parseStamp accepts RFC3339 (absolute), local date-times, dates and bare
// clock times.
func parseStamp(v any) (stamp, error) {
	s, ok := v.(string)
	if !ok {
		return stamp{}, fmt.Errorf("%w: timestamp %v is not a string", ErrBadValue, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return stamp{}, fmt.Errorf("%w: empty timestamp", ErrBadValue)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return stamp{wall: t, hasDate: true, absolute: true}, nil
	}
	for _, l := range localLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return stamp{wall: t, hasDate: true}, nil
		}
	}
	for _, l := range clockLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return stamp{wall: t}, nil
		}
	}
	return stamp{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrBadValue, s)
}

// number coerces JSON numbers and numeric strings.
func number(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadValue, x)
		}
	case float64:
		f = x
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrBadValue, x)
		}
	default:
		return 0, fmt.Errorf("%w: %v is not numeric", ErrBadValue, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: non-finite value", ErrBadValue)
	}
	return f, nil
}
