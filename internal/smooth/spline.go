package smooth

import (
	"math"
	"sort"
)

// DefaultSplineDF is the spline degrees of freedom used by SplineGLM.
const DefaultSplineDF = 3

// naturalSpline is a natural cubic spline basis with intercept. For K knots it
// has K columns: 1, u and K-2 truncated-power terms that are linear beyond the
// boundary knots. It spans the same space as ns(x, df = K-1) plus an intercept.
type naturalSpline struct {
	lo, width float64
	knots     []float64 // on the unit scale, boundary knots included
}

// newNaturalSpline places df-1 interior knots at evenly spaced quantiles of x
// and boundary knots at its range. Tied quantiles are merged.
func newNaturalSpline(x []float64, df int) *naturalSpline {
	if df < 1 {
		df = DefaultSplineDF
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	width := hi - lo
	if width <= 0 {
		width = 1
	}
	b := &naturalSpline{lo: lo, width: width}

	b.knots = append(b.knots, 0)
	for k := 1; k < df; k++ {
		q := (quantile7(sorted, float64(k)/float64(df)) - lo) / width
		if q > b.knots[len(b.knots)-1] && q < 1 {
			b.knots = append(b.knots, q)
		}
	}
	if hi > lo {
		b.knots = append(b.knots, 1)
	}
	return b
}

// quantile7 is the default R quantile (type 7) of sorted data.
func quantile7(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	i := int(math.Floor(h))
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-float64(i))*(sorted[i+1]-sorted[i])
}

// columns is the number of basis columns, intercept included.
func (b *naturalSpline) columns() int {
	if len(b.knots) < 2 {
		return 1
	}
	return len(b.knots)
}

// row writes the basis at x into dst, which must have columns() entries.
func (b *naturalSpline) row(x float64, dst []float64) {
	dst[0] = 1
	if len(b.knots) < 2 {
		return
	}
	u := (x - b.lo) / b.width
	dst[1] = u
	k := len(b.knots)
	last := b.knots[k-1]
	d := func(j int) float64 {
		return (cube(u-b.knots[j]) - cube(u-last)) / (last - b.knots[j])
	}
	dk := d(k - 2)
	for j := 0; j < k-2; j++ {
		dst[j+2] = d(j) - dk
	}
}

func cube(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v * v * v
}
