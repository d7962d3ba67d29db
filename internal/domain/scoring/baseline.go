package scoring

import (
	"fmt"
	"math"

	"github.com/okian/vitals/internal/domain/model"
)

// Baseline estimates a rolling reference level over daily values.
type Baseline struct {
	Kind       model.BaselineKind
	Window     int
	MinPeriods int
}

// baselineFrom converts the profile's baseline settings.
func baselineFrom(c model.BaselineConfig) Baseline {
	return Baseline{Kind: c.Kind, Window: c.WindowDays, MinPeriods: c.MinPeriods}
}

// At computes the baseline for day i of values, using only days
// max(0, i-Window+1)..i. NaN entries are absent days and are skipped.
func (b Baseline) At(values []float64, i int) (float64, error) {
	if i < 0 || i >= len(values) {
		return 0, fmt.Errorf("%w: day %d of %d", ErrInsufficientBaseline, i, len(values))
	}
	start := max(i-b.Window+1, 0)

	var (
		n    int
		sum  float64
		ema  float64
		seen bool
	)
	alpha := 2 / (float64(b.Window) + 1)
	for _, v := range values[start : i+1] {
		if math.IsNaN(v) {
			continue
		}
		n++
		sum += v
		if !seen {
			ema, seen = v, true
			continue
		}
		ema = alpha*v + (1-alpha)*ema
	}
	if n < max(b.MinPeriods, 1) {
		return 0, fmt.Errorf("%w: %d of %d days present", ErrInsufficientBaseline, n, b.MinPeriods)
	}
	if b.Kind == model.BaselineEMA {
		return ema, nil
	}
	return sum / float64(n), nil
}

// windowMean averages the present values of days max(0, i-window+1)..i.
func windowMean(values []float64, i, window int) (mean float64, n int) {
	var sum float64
	for _, v := range values[max(i-window+1, 0) : i+1] {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
