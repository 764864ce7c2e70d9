package smooth

import (
	"fmt"
	"math"

	"github.com/soma-tiles/trajplot/internal/lineage"
)

// Band is a loess fit with a one-standard-error envelope evaluated on a grid.
type Band struct {
	X     []float64
	Fit   []float64
	Lower []float64
	Upper []float64
}

// FitBand fits loess to sub, which should carry the full weight vector of a
// lineage (zero weights included, see lineage.ExtractAll), and evaluates fit ±
// one standard error at grid. Grid points where the fit is undefined are dropped.
func FitBand(sub *lineage.Subset, span float64, grid []float64) (*Band, error) {
	if sub == nil || sub.Len() == 0 {
		return nil, fmt.Errorf("band: %w", lineage.ErrEmptyLineage)
	}
	if span <= 0 || math.IsNaN(span) {
		span = DefaultSpan
	}
	f := buildLocal(sub, span)
	sigma := f.residualScale()

	b := &Band{}
	for _, x0 := range grid {
		lo, l, ok := f.row(x0)
		if !ok {
			continue
		}
		fit, varSum := 0.0, 0.0
		for i, li := range l {
			fit += li * f.y[lo+i]
			if w := f.w[lo+i]; w > 0 {
				varSum += li * li / w
			}
		}
		se := sigma * math.Sqrt(varSum)
		b.X = append(b.X, x0)
		b.Fit = append(b.Fit, fit)
		b.Lower = append(b.Lower, fit-se)
		b.Upper = append(b.Upper, fit+se)
	}
	return b, nil
}

// residualScale estimates sigma from weighted residuals at the training points,
// using the trace of the smoother matrix as the equivalent number of parameters.
func (f *localFit) residualScale() float64 {
	rss, trace := 0.0, 0.0
	positive := 0
	for i, x0 := range f.x {
		if f.w[i] <= 0 {
			continue
		}
		positive++
		lo, l, ok := f.row(x0)
		if !ok {
			continue
		}
		fit := 0.0
		for j, lj := range l {
			fit += lj * f.y[lo+j]
			if lo+j == i {
				trace += lj
			}
		}
		r := f.y[i] - fit
		rss += f.w[i] * r * r
	}
	dof := float64(positive) - trace
	if dof < 1 {
		dof = 1
	}
	return math.Sqrt(rss / dof)
}
