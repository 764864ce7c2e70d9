package smooth

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

var errEmptyDesign = errors.New("empty design matrix")

// weightedLeastSquares minimizes sum w_i (y_i - x_i·beta)^2 through the normal
// equations. Singular or ill-conditioned systems return an error.
func weightedLeastSquares(x *mat.Dense, w, y []float64) (*mat.VecDense, error) {
	n, p := x.Dims()
	if n == 0 || p == 0 {
		return nil, errEmptyDesign
	}
	xtw := mat.NewDense(p, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			xtw.Set(j, i, x.At(i, j)*w[i])
		}
	}
	var a mat.Dense
	a.Mul(xtw, x)

	var rhs mat.VecDense
	rhs.MulVec(xtw, mat.NewVecDense(n, y))

	var beta mat.VecDense
	if err := beta.SolveVec(&a, &rhs); err != nil {
		return nil, err
	}
	return &beta, nil
}
