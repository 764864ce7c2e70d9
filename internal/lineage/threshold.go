package lineage

import (
	"gonum.org/v1/gonum/stat"
)

// UnsharedThreshold returns 0.5 + sd(weights strictly inside (0,1)).
//
// With fewer than two interior weights the sample sd is undefined and taken as 0,
// so the threshold is exactly 0.5; degenerate reports that case.
func UnsharedThreshold(weights []float64) (threshold float64, degenerate bool) {
	interior := make([]float64, 0, len(weights))
	for _, w := range weights {
		if w > 0 && w < 1 {
			interior = append(interior, w)
		}
	}
	if len(interior) < 2 {
		return 0.5, true
	}
	return 0.5 + stat.StdDev(interior, nil), false
}

// SelectUnshared returns the indexes of weights above threshold.
func SelectUnshared(weights []float64, threshold float64) []int {
	var idx []int
	for i, w := range weights {
		if w > threshold {
			idx = append(idx, i)
		}
	}
	return idx
}
