package service

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soma-tiles/trajplot/internal/lineage"
	"github.com/soma-tiles/trajplot/internal/scene"
	"github.com/soma-tiles/trajplot/internal/smooth"
)

// buildDataset makes a dataset whose cells sit at pseudotime i on every lineage
// with the given weights. Genes G1..G<genes> have smooth counts.
func buildDataset(t *testing.T, genes int, weights ...[]float64) *lineage.Table {
	t.Helper()
	n := len(weights[0])
	cells := make([]string, n)
	pt := make([][]float64, len(weights))
	for l := range weights {
		pt[l] = make([]float64, n)
	}
	for i := range cells {
		cells[i] = fmt.Sprintf("cell%03d", i)
		for l := range pt {
			pt[l][i] = float64(i)
		}
	}
	counts := map[string][]float64{}
	for g := 1; g <= genes; g++ {
		row := make([]float64, n)
		for i := range row {
			row[i] = math.Round(5 + 3*math.Sin(float64(i*g)/7))
		}
		counts[fmt.Sprintf("G%d", g)] = row
	}
	ds, err := lineage.NewTable(cells, pt, weights, counts)
	require.NoError(t, err)
	return ds
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		// Interpolate so the last weight is exactly 1.
		out[i] = (0.2*float64(n-1-i) + float64(i)) / float64(n-1)
	}
	return out
}

func TestRampStaysInUnitInterval(t *testing.T) {
	for _, n := range []int{2, 10, 20, 25, 30, 40, 50} {
		r := ramp(n)
		assert.InDelta(t, 0.2, r[0], 1e-12, "n=%d", n)
		assert.Equal(t, 1.0, r[n-1], "n=%d", n)
		for _, v := range r {
			assert.True(t, v > 0 && v <= 1, "n=%d v=%v", n, v)
		}
	}
}

func newTestCurveService() *CurveService {
	return NewCurveService(CurveServiceConfig{})
}

func TestFitAndPlot_EmptyLineage(t *testing.T) {
	ds := buildDataset(t, 1, constant(10, 1), constant(10, 0))
	svc := newTestCurveService()

	_, err := svc.FitAndPlot(ds, "G1", DefaultOptions())
	require.ErrorIs(t, err, lineage.ErrEmptyLineage)

	t.Run("scatterOnly", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ComputeRegression = false
		opts.ComputeNullModel = false
		res, err := svc.FitAndPlot(ds, "G1", opts)
		require.NoError(t, err)
		assert.Empty(t, res.Models)
		require.Len(t, res.Scene.LayersOf(scene.Points), 2)
		l2, _ := res.Scene.Layer(scene.Points, "lineage2")
		for i := range l2.X {
			assert.Zero(t, l2.PointAlpha(i))
		}
	})

	t.Run("skip", func(t *testing.T) {
		opts := DefaultOptions()
		opts.SkipEmptyLineages = true
		res, err := svc.FitAndPlot(ds, "G1", opts)
		require.NoError(t, err)

		l1, ok := res.Scene.Layer(scene.Points, "lineage1")
		require.True(t, ok)
		assert.Equal(t, 10, l1.Len())
		assert.Contains(t, res.Models, "lineage1")
		assert.NotContains(t, res.Models, "lineage2")
		require.NotEmpty(t, res.Warnings)
		assert.ErrorIs(t, res.Warnings[0], lineage.ErrEmptyLineage)
	})
}

func TestFitAndPlot_IdenticalLineages(t *testing.T) {
	const n = 40
	ds := buildDataset(t, 1, ramp(n), ramp(n))
	res, err := newTestCurveService().FitAndPlot(ds, "G1", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Models, 3)

	c1, ok := res.Scene.Layer(scene.Line, "lineage1")
	require.True(t, ok)
	c2, _ := res.Scene.Layer(scene.Line, "lineage2")
	cn, _ := res.Scene.Layer(scene.Line, NullModelLabel)
	require.Equal(t, c1.X, c2.X)
	require.Equal(t, c1.X, cn.X)
	for i := range c1.X {
		assert.InDelta(t, c1.Y[i], c2.Y[i], 1e-12)
		assert.InDelta(t, c1.Y[i], cn.Y[i], 1e-6)
	}
	assert.True(t, cn.Style.Dashed)
	assert.False(t, c1.Style.Dashed)
}

func TestFitAndPlot_NullModelPoolsLineages(t *testing.T) {
	w2 := constant(30, 0)
	for i := 5; i < 30; i++ {
		w2[i] = 0.6
	}
	ds := buildDataset(t, 1, constant(30, 1), w2)
	res, err := newTestCurveService().FitAndPlot(ds, "G1", DefaultOptions())
	require.NoError(t, err)

	null := res.Models[NullModelLabel]
	require.NotNil(t, null)
	assert.Equal(t, 30+25, null.Subset().Len())
	assert.Equal(t, 25, res.Models["lineage2"].Subset().Len())
}

func TestFitAndPlot_GridLengthFollowsFirstLineage(t *testing.T) {
	w1 := constant(25, 0)
	for i := 0; i < 10; i++ {
		w1[i] = 1
	}
	ds := buildDataset(t, 1, w1, constant(25, 1))
	svc := newTestCurveService()

	res, err := svc.FitAndPlot(ds, "G1", DefaultOptions())
	require.NoError(t, err)
	c2, _ := res.Scene.Layer(scene.Line, "lineage2")
	assert.Equal(t, 10, c2.Len())
	assert.Equal(t, 24.0, c2.X[len(c2.X)-1])
	cn, _ := res.Scene.Layer(scene.Line, NullModelLabel)
	assert.Equal(t, 10, cn.Len())

	opts := DefaultOptions()
	opts.OwnGridLength = true
	res, err = svc.FitAndPlot(ds, "G1", opts)
	require.NoError(t, err)
	c2, _ = res.Scene.Layer(scene.Line, "lineage2")
	assert.Equal(t, 25, c2.Len())
}

type divergingStrategy struct{ smooth.Loess }

func (divergingStrategy) Fit(*lineage.Subset) (smooth.Model, error) {
	return nil, fmt.Errorf("%w: test", smooth.ErrFitDivergence)
}

type brokenStrategy struct{ smooth.Loess }

func (brokenStrategy) Fit(*lineage.Subset) (smooth.Model, error) {
	return nil, errors.New("boom")
}

func TestFitAndPlot_Divergence(t *testing.T) {
	ds := buildDataset(t, 1, ramp(20), ramp(20))
	svc := newTestCurveService()

	opts := DefaultOptions()
	opts.Strategy = divergingStrategy{}
	opts.ShowBand = true
	res, err := svc.FitAndPlot(ds, "G1", opts)
	require.NoError(t, err)
	assert.Empty(t, res.Models)
	assert.Len(t, res.Scene.Layers, 2)
	assert.Empty(t, res.Scene.LayersOf(scene.Line))
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], smooth.ErrFitDivergence)

	opts.Strategy = brokenStrategy{}
	_, err = svc.FitAndPlot(ds, "G1", opts)
	assert.EqualError(t, err, "failed to fit lineage1 for G1: boom")
}

func TestFitAndPlot_UnknownGene(t *testing.T) {
	ds := buildDataset(t, 1, ramp(10))
	_, err := newTestCurveService().FitAndPlot(ds, "NOPE", DefaultOptions())
	assert.ErrorIs(t, err, lineage.ErrUnknownGene)
}

func TestFitAndPlot_UnknownGeneWithoutLineages(t *testing.T) {
	ds, err := lineage.NewTable([]string{"c1", "c2"}, nil, nil, map[string][]float64{"G1": {1, 2}})
	require.NoError(t, err)
	require.Zero(t, ds.NumLineages())

	svc := newTestCurveService()
	_, err = svc.FitAndPlot(ds, "NOPE", DefaultOptions())
	assert.ErrorIs(t, err, lineage.ErrUnknownGene)

	res, err := svc.FitAndPlot(ds, "G1", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Scene.Layers)
}

func TestFitAndPlot_BandsAndUnshared(t *testing.T) {
	w1 := []float64{0, 0.3, 0.5, 0.7, 1, 1, 0.9, 0.2, 0.4, 0.8, 1, 0.6}
	w2 := constant(len(w1), 1)
	ds := buildDataset(t, 1, w1, w2)

	opts := DefaultOptions()
	opts.ShowBand = true
	opts.ShowUnshared = true
	res, err := newTestCurveService().FitAndPlot(ds, "G1", opts)
	require.NoError(t, err)

	kinds := make([]scene.Kind, len(res.Scene.Layers))
	for i, l := range res.Scene.Layers {
		kinds[i] = l.Kind
	}
	assert.Equal(t, []scene.Kind{
		scene.Points, scene.Points,
		scene.Ribbon, scene.Ribbon,
		scene.Line, scene.Line, scene.Line,
		scene.Points, scene.Points,
	}, kinds)

	sub, err := lineage.Extract(ds, "G1", 0, lineage.Log1p)
	require.NoError(t, err)
	thr, degenerate := lineage.UnsharedThreshold(sub.Weights)
	require.False(t, degenerate)
	want := lineage.SelectUnshared(sub.Weights, thr)

	u1, ok := res.Scene.Layer(scene.Points, "lineage1 unshared")
	require.True(t, ok)
	assert.Equal(t, len(want), u1.Len())
	assert.Equal(t, res.Models["lineage1"].Predict(u1.X), u1.Y)
	assert.InDelta(t, 0.5, u1.PointAlpha(0), 1e-12)

	// Lineage 2 has no interior weights: sd is 0 and every cell passes 0.5.
	u2, ok := res.Scene.Layer(scene.Points, "lineage2 unshared")
	require.True(t, ok)
	assert.Equal(t, len(w2), u2.Len())
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], lineage.ErrDegenerateThreshold)

	r1, _ := res.Scene.Layer(scene.Ribbon, "lineage1")
	for i := range r1.X {
		assert.LessOrEqual(t, r1.YMin[i], r1.YMax[i])
	}
}

func TestFitAndPlot_SplineBandWarns(t *testing.T) {
	ds := buildDataset(t, 1, ramp(30), ramp(30))
	opts := DefaultOptions()
	opts.Strategy = smooth.SplineGLM{DF: 3, Family: smooth.Gaussian}
	opts.ShowBand = true
	res, err := newTestCurveService().FitAndPlot(ds, "G1", opts)
	require.NoError(t, err)
	assert.Empty(t, res.Scene.LayersOf(scene.Ribbon))
	assert.Len(t, res.Scene.LayersOf(scene.Line), 3)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 3.0, res.Models["lineage1"].Param())
}

func TestFitAndPlot_ScatterSampling(t *testing.T) {
	ds := buildDataset(t, 1, ramp(50))
	svc := NewCurveService(CurveServiceConfig{MaxScatterPoints: 12, SampleSeed: 7})
	opts := Options{ShowLegend: true}

	res, err := svc.FitAndPlot(ds, "G1", opts)
	require.NoError(t, err)
	pts, _ := res.Scene.Layer(scene.Points, "lineage1")
	assert.Equal(t, 12, pts.Len())
	assert.Len(t, pts.Alpha, 12)
	assert.True(t, res.Scene.ShowLegend)

	again, err := svc.FitAndPlot(ds, "G1", opts)
	require.NoError(t, err)
	assert.Equal(t, res.Scene, again.Scene)
}
