package smooth

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/soma-tiles/trajplot/internal/lineage"
)

// Family is the response distribution of a SplineGLM.
type Family int

const (
	// Gaussian fits log1p expression with an identity link.
	Gaussian Family = iota
	// NegativeBinomial fits rounded counts with a log link and estimated size.
	NegativeBinomial
)

func (f Family) String() string {
	if f == NegativeBinomial {
		return "negbinomial"
	}
	return "gaussian"
}

// ParseFamily accepts "gaussian" and "negbinomial" (with a few aliases).
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gaussian", "normal":
		return Gaussian, nil
	case "negbinomial", "negative-binomial", "nb":
		return NegativeBinomial, nil
	default:
		return Gaussian, fmt.Errorf("unknown response family: %q", s)
	}
}

const (
	irlsMaxIter   = 100
	irlsTolerance = 1e-8
	etaLimit      = 30.0
	minSize       = 1e-4
	maxSize       = 1e6
)

// SplineGLM fits a natural cubic spline GLM in pseudotime.
type SplineGLM struct {
	DF     int
	Family Family
}

func (s SplineGLM) Name() string { return NameSpline }

func (s SplineGLM) Response() lineage.Response {
	if s.Family == NegativeBinomial {
		return lineage.RawCounts
	}
	return lineage.Log1p
}

func (s SplineGLM) df() int {
	if s.DF <= 0 {
		return DefaultSplineDF
	}
	return s.DF
}

// Fit fits the subset with cell weights as prior weights.
func (s SplineGLM) Fit(sub *lineage.Subset) (Model, error) {
	if sub == nil || sub.Len() == 0 {
		return nil, fmt.Errorf("spline: %w", lineage.ErrEmptyLineage)
	}
	basis := newNaturalSpline(sub.Pseudotime, s.df())
	x := designMatrix(basis, sub.Pseudotime)

	m := &GLMModel{sub: sub, df: s.df(), family: s.Family, basis: basis}
	var err error
	switch s.Family {
	case NegativeBinomial:
		m.beta, m.size, err = fitNegBinomial(x, sub.Expression, sub.Weights)
	default:
		m.beta, err = weightedLeastSquares(x, sub.Weights, sub.Expression)
		if err != nil {
			err = fmt.Errorf("%w: gaussian spline: %v", ErrFitDivergence, err)
		}
	}
	if err != nil {
		return nil, err
	}
	for i := 0; i < m.beta.Len(); i++ {
		if v := m.beta.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite coefficient", ErrFitDivergence)
		}
	}
	// An all-zero response is pinned at -etaLimit on purpose.
	if s.Family == NegativeBinomial && floats.Dot(sub.Expression, sub.Weights) > 0 && m.saturated() {
		return nil, fmt.Errorf("%w: negative binomial mean reaches the log-link bound", ErrFitDivergence)
	}
	return m, nil
}

// saturated reports whether the linear predictor reaches ±etaLimit at a
// training point or anywhere on an even grid over the training range.
func (m *GLMModel) saturated() bool {
	const gridPoints = 64
	x := make([]float64, gridPoints, gridPoints+m.sub.Len())
	floats.Span(x, floats.Min(m.sub.Pseudotime), floats.Max(m.sub.Pseudotime))
	x = append(x, m.sub.Pseudotime...)

	eta := mat.NewVecDense(len(x), nil)
	eta.MulVec(designMatrix(m.basis, x), m.beta)
	for i := 0; i < eta.Len(); i++ {
		if math.Abs(eta.AtVec(i)) >= etaLimit {
			return true
		}
	}
	return false
}

func designMatrix(basis *naturalSpline, x []float64) *mat.Dense {
	p := basis.columns()
	d := mat.NewDense(len(x), p, nil)
	row := make([]float64, p)
	for i, xi := range x {
		basis.row(xi, row)
		d.SetRow(i, row)
	}
	return d
}

// GLMModel is a fitted spline GLM.
type GLMModel struct {
	sub    *lineage.Subset
	df     int
	family Family
	basis  *naturalSpline
	beta   *mat.VecDense
	size   float64
}

func (m *GLMModel) Subset() *lineage.Subset { return m.sub }

func (m *GLMModel) Param() float64 { return float64(m.df) }

// Family returns the response family of the model.
func (m *GLMModel) Family() Family { return m.family }

// PredictColumns returns one row per x, or nil when x is empty. Gaussian models
// have a single column (the fitted value); negative-binomial models have the
// fitted mean and the size.
func (m *GLMModel) PredictColumns(x []float64) *mat.Dense {
	if len(x) == 0 {
		return nil
	}
	cols := 1
	if m.family == NegativeBinomial {
		cols = 2
	}
	out := mat.NewDense(len(x), cols, nil)
	eta := mat.NewVecDense(len(x), nil)
	eta.MulVec(designMatrix(m.basis, x), m.beta)
	for i := range x {
		v := eta.AtVec(i)
		if m.family == NegativeBinomial {
			out.Set(i, 0, math.Exp(clampEta(v)))
			out.Set(i, 1, m.size)
			continue
		}
		out.Set(i, 0, v)
	}
	return out
}

// Predict returns the first prediction column: the mean on the response scale.
func (m *GLMModel) Predict(x []float64) []float64 {
	if len(x) == 0 {
		return []float64{}
	}
	return mat.Col(nil, 0, m.PredictColumns(x))
}

func clampEta(v float64) float64 {
	return math.Max(-etaLimit, math.Min(etaLimit, v))
}

// fitNegBinomial runs IRLS for the mean with a log link, alternating with a
// maximum-likelihood update of the size. The mean starts at the weighted sample
// mean and the size at 1.
func fitNegBinomial(x *mat.Dense, y, w []float64) (*mat.VecDense, float64, error) {
	n, p := x.Dims()
	mean := floats.Dot(y, w) / floats.Sum(w)

	if mean == 0 {
		// All-zero response: the MLE mean is 0 everywhere.
		beta := mat.NewVecDense(p, nil)
		beta.SetVec(0, -etaLimit)
		return beta, maxSize, nil
	}

	eta := make([]float64, n)
	mu := make([]float64, n)
	for i := range eta {
		eta[i] = math.Log(mean)
		mu[i] = mean
	}
	size := 1.0
	work := make([]float64, n)
	z := make([]float64, n)

	var beta *mat.VecDense
	llOld := math.Inf(-1)
	for iter := 0; iter < irlsMaxIter; iter++ {
		for i := range mu {
			work[i] = w[i] * mu[i] / (1 + mu[i]/size)
			z[i] = eta[i] + (y[i]-mu[i])/mu[i]
		}
		var err error
		beta, err = weightedLeastSquares(x, work, z)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: negative binomial IRLS: %v", ErrFitDivergence, err)
		}
		etaVec := mat.NewVecDense(n, nil)
		etaVec.MulVec(x, beta)
		for i := range eta {
			eta[i] = clampEta(etaVec.AtVec(i))
			mu[i] = math.Exp(eta[i])
		}

		size, err = estimateSize(y, mu, w, size)
		if err != nil {
			return nil, 0, err
		}

		ll := nbLogLik(y, mu, w, size)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return nil, 0, fmt.Errorf("%w: non-finite log-likelihood at iteration %d", ErrFitDivergence, iter)
		}
		if math.Abs(ll-llOld)/(math.Abs(ll)+0.1) < irlsTolerance {
			return beta, size, nil
		}
		llOld = ll
	}
	return nil, 0, fmt.Errorf("%w: negative binomial IRLS after %d iterations", ErrFitDivergence, irlsMaxIter)
}

// estimateSize maximizes the negative-binomial log-likelihood in log(size) with
// the means held fixed.
func estimateSize(y, mu, w []float64, start float64) (float64, error) {
	toSize := func(s float64) float64 {
		return math.Exp(math.Max(math.Log(minSize), math.Min(math.Log(maxSize), s)))
	}
	problem := optimize.Problem{
		Func: func(s []float64) float64 {
			return -nbLogLik(y, mu, w, toSize(s[0]))
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 500,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 50,
		},
	}
	res, err := optimize.Minimize(problem, []float64{math.Log(start)}, settings, &optimize.NelderMead{})
	if err != nil {
		return 0, fmt.Errorf("%w: size optimization: %v", ErrFitDivergence, err)
	}
	size := toSize(res.X[0])
	if math.IsNaN(size) {
		return 0, fmt.Errorf("%w: size optimization returned NaN", ErrFitDivergence)
	}
	return size, nil
}

func nbLogLik(y, mu, w []float64, size float64) float64 {
	lgSize, _ := math.Lgamma(size)
	ll := 0.0
	for i := range y {
		if w[i] == 0 {
			continue
		}
		a, _ := math.Lgamma(y[i] + size)
		b, _ := math.Lgamma(y[i] + 1)
		term := a - lgSize - b + size*math.Log(size/(size+mu[i]))
		if y[i] > 0 {
			term += y[i] * math.Log(mu[i]/(size+mu[i]))
		}
		ll += w[i] * term
	}
	return ll
}
