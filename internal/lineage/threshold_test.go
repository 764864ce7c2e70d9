package lineage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnsharedThreshold(t *testing.T) {
	weights := []float64{0, 0.3, 0.5, 0.7, 1}

	thr, degenerate := UnsharedThreshold(weights)
	assert.False(t, degenerate)

	// sd([0.3, 0.5, 0.7]) with n-1 denominator.
	mean := (0.3 + 0.5 + 0.7) / 3
	ss := (0.3-mean)*(0.3-mean) + (0.5-mean)*(0.5-mean) + (0.7-mean)*(0.7-mean)
	want := 0.5 + math.Sqrt(ss/2)
	assert.InDelta(t, want, thr, 1e-12)
	assert.InDelta(t, 0.7, thr, 1e-12)

	var expected []int
	for i, w := range weights {
		if w > thr {
			expected = append(expected, i)
		}
	}
	got := SelectUnshared(weights, thr)
	assert.Equal(t, expected, got)
	assert.Contains(t, got, 4)
	assert.NotContains(t, got, 0)
	assert.NotContains(t, got, 1)
	assert.NotContains(t, got, 2)
}

func TestUnsharedThreshold_Degenerate(t *testing.T) {
	for _, weights := range [][]float64{
		{0, 0, 1, 1},
		{0, 0.4, 1},
		nil,
	} {
		thr, degenerate := UnsharedThreshold(weights)
		assert.True(t, degenerate)
		assert.Equal(t, 0.5, thr)
	}
	assert.Equal(t, []int{2, 3}, SelectUnshared([]float64{0, 0.5, 0.51, 1}, 0.5))
}
