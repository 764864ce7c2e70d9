// Package smooth fits pseudotime smoothers to lineage subsets.
//
// Two families are provided: Loess, a locally weighted quadratic regression, and
// SplineGLM, a natural cubic spline generalized linear model with a gaussian or
// negative-binomial response. Both produce immutable models that are only used
// for prediction.
package smooth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soma-tiles/trajplot/internal/lineage"
)

// ErrFitDivergence is returned when a fit does not converge or has no unique solution.
var ErrFitDivergence = errors.New("fit did not converge")

// Model is a fitted smoother.
type Model interface {
	// Predict evaluates the fit at x. It never fails; values outside the
	// training range are extrapolated.
	Predict(x []float64) []float64
	// Subset is the data the model was fitted on.
	Subset() *lineage.Subset
	// Param is the span (loess) or spline degrees of freedom.
	Param() float64
}

// Strategy fits a Model to a subset.
type Strategy interface {
	Name() string
	Response() lineage.Response
	Fit(sub *lineage.Subset) (Model, error)
}

// Strategy names accepted by Parse.
const (
	NameLoess  = "loess"
	NameSpline = "spline"
)

// Parse builds a strategy from its configuration name.
func Parse(name string, span float64, df int, family string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameLoess:
		return Loess{Span: span}, nil
	case NameSpline, "vgam", "gam":
		fam, err := ParseFamily(family)
		if err != nil {
			return nil, err
		}
		return SplineGLM{DF: df, Family: fam}, nil
	default:
		return nil, fmt.Errorf("unknown smoothing strategy: %q", name)
	}
}
