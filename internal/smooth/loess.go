package smooth

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/soma-tiles/trajplot/internal/lineage"
)

// DefaultSpan is the loess bandwidth used when none is configured.
const DefaultSpan = 0.5

const loessDegree = 2

// Loess fits a local quadratic regression with a tricube kernel. Span is the
// fraction of points in each local window.
type Loess struct {
	Span float64
}

func (l Loess) Name() string { return NameLoess }

func (l Loess) Response() lineage.Response { return lineage.Log1p }

func (l Loess) span() float64 {
	if l.Span <= 0 || math.IsNaN(l.Span) {
		return DefaultSpan
	}
	return l.Span
}

// Fit fits the subset. Cell weights multiply the kernel weights.
func (l Loess) Fit(sub *lineage.Subset) (Model, error) {
	if sub == nil || sub.Len() == 0 {
		return nil, fmt.Errorf("loess: %w", lineage.ErrEmptyLineage)
	}
	return newLocalFit(sub, l.span()), nil
}

// LoessModel is a fitted loess curve.
type LoessModel struct {
	local *localFit
}

func newLocalFit(sub *lineage.Subset, span float64) *LoessModel {
	return &LoessModel{local: buildLocal(sub, span)}
}

func (m *LoessModel) Subset() *lineage.Subset { return m.local.sub }

func (m *LoessModel) Param() float64 { return m.local.span }

func (m *LoessModel) Predict(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, x0 := range x {
		out[i] = m.local.at(x0)
	}
	return out
}

// localFit holds the training data sorted by pseudotime.
type localFit struct {
	sub  *lineage.Subset
	span float64
	x    []float64
	y    []float64
	w    []float64
}

func buildLocal(sub *lineage.Subset, span float64) *localFit {
	n := sub.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sub.Pseudotime[order[a]] < sub.Pseudotime[order[b]]
	})
	f := &localFit{
		sub:  sub,
		span: span,
		x:    make([]float64, n),
		y:    make([]float64, n),
		w:    make([]float64, n),
	}
	for i, j := range order {
		f.x[i] = sub.Pseudotime[j]
		f.y[i] = sub.Expression[j]
		f.w[i] = sub.Weights[j]
	}
	return f
}

// window returns the start of the q nearest neighbours of x0 in the sorted data
// together with q and the kernel radius.
func (f *localFit) window(x0 float64) (lo, q int, radius float64) {
	n := len(f.x)
	q = int(math.Floor(float64(n) * f.span))
	if q < loessDegree+1 {
		q = loessDegree + 1
	}
	if q > n {
		q = n
	}

	pos := sort.SearchFloat64s(f.x, x0)
	lo = pos - q/2
	if lo > n-q {
		lo = n - q
	}
	if lo < 0 {
		lo = 0
	}
	for lo > 0 && x0-f.x[lo-1] < f.x[lo+q-1]-x0 {
		lo--
	}
	for lo+q < n && f.x[lo+q]-x0 < x0-f.x[lo] {
		lo++
	}

	radius = math.Max(math.Abs(x0-f.x[lo]), math.Abs(f.x[lo+q-1]-x0))
	if f.span > 1 {
		radius *= f.span
	}
	return lo, q, radius
}

// row returns the smoother weights l_i (for i in [lo, lo+len(l))) such that the
// fitted value at x0 is sum l_i y_i. ok is false when the window carries no weight.
func (f *localFit) row(x0 float64) (lo int, l []float64, ok bool) {
	if len(f.x) == 0 {
		return 0, nil, false
	}
	lo, q, radius := f.window(x0)

	u := make([]float64, q)
	k := make([]float64, q)
	total := 0.0
	for i := 0; i < q; i++ {
		d := f.x[lo+i] - x0
		var kern float64
		switch {
		case radius <= 0:
			if d == 0 {
				kern = 1
			}
		default:
			r := math.Abs(d) / radius
			if r < 1 {
				c := 1 - r*r*r
				kern = c * c * c
			}
		}
		k[i] = kern * f.w[lo+i]
		total += k[i]
		if radius > 0 {
			u[i] = d / radius
		}
	}

	if total <= 0 {
		// Every kernel weight vanished, e.g. x0 exactly between equidistant
		// neighbours. Use the prior-weighted window mean.
		for i := 0; i < q; i++ {
			k[i] = f.w[lo+i]
			total += k[i]
		}
		if total <= 0 {
			return lo, nil, false
		}
		for i := range k {
			k[i] /= total
		}
		return lo, k, true
	}

	for degree := loessDegree; degree >= 1; degree-- {
		if l, ok := localPolynomialRow(u, k, degree); ok {
			return lo, l, true
		}
	}
	for i := range k {
		k[i] /= total
	}
	return lo, k, true
}

// localPolynomialRow solves the weighted polynomial fit centred at u=0 and returns
// the first row of (X'KX)^-1 X'K, i.e. the weights that produce the intercept.
func localPolynomialRow(u, k []float64, degree int) ([]float64, bool) {
	p := degree + 1
	a := mat.NewDense(p, p, nil)
	for i := range u {
		if k[i] == 0 {
			continue
		}
		pow := make([]float64, 2*p-1)
		pow[0] = 1
		for j := 1; j < len(pow); j++ {
			pow[j] = pow[j-1] * u[i]
		}
		for r := 0; r < p; r++ {
			for c := 0; c < p; c++ {
				a.Set(r, c, a.At(r, c)+k[i]*pow[r+c])
			}
		}
	}
	e1 := mat.NewVecDense(p, nil)
	e1.SetVec(0, 1)

	var z mat.VecDense
	if err := z.SolveVec(a, e1); err != nil {
		return nil, false
	}

	l := make([]float64, len(u))
	for i := range u {
		if k[i] == 0 {
			continue
		}
		v, basis := 0.0, 1.0
		for j := 0; j < p; j++ {
			v += z.AtVec(j) * basis
			basis *= u[i]
		}
		l[i] = k[i] * v
	}
	for _, v := range l {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return l, true
}

func (f *localFit) at(x0 float64) float64 {
	lo, l, ok := f.row(x0)
	if !ok {
		return math.NaN()
	}
	v := 0.0
	for i, li := range l {
		v += li * f.y[lo+i]
	}
	return v
}
