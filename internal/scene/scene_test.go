package scene

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSceneLookup(t *testing.T) {
	s := &Scene{Title: "GENE"}
	s.Add(Layer{Kind: Points, Label: "lineage1", X: []float64{0, 1}, Y: []float64{1, 2}}).
		Add(Layer{Kind: Line, Label: "lineage1", X: []float64{0, 1}, Y: []float64{1, 1}}).
		Add(Layer{Kind: Line, Label: "null model", X: []float64{0}, Y: []float64{3}, Style: Style{Dashed: true}})

	assert.Len(t, s.LayersOf(Line), 2)
	l, ok := s.Layer(Line, "null model")
	require.True(t, ok)
	assert.True(t, l.Style.Dashed)
	_, ok = s.Layer(Ribbon, "lineage1")
	assert.False(t, ok)
}

func TestBounds(t *testing.T) {
	s := &Scene{}
	_, _, _, _, ok := s.Bounds()
	assert.False(t, ok)

	nan := 0.0
	nan /= nan
	s.Add(Layer{Kind: Points, X: []float64{1, 2, nan}, Y: []float64{5, -1, 100}})
	s.Add(Layer{Kind: Ribbon, X: []float64{3}, YMin: []float64{-2}, YMax: []float64{7}})
	xmin, xmax, ymin, ymax, ok := s.Bounds()
	require.True(t, ok)
	assert.Equal(t, []float64{1, 3, -2, 7}, []float64{xmin, xmax, ymin, ymax})
}

func TestPointAlpha(t *testing.T) {
	l := Layer{Alpha: []float64{0.5}, Style: Style{Color: color.RGBA{A: 255}, Opacity: 0.5}}
	assert.InDelta(t, 0.25, l.PointAlpha(0), 1e-12)
	assert.InDelta(t, 0.5, l.PointAlpha(3), 1e-12)
}

func TestGridAt(t *testing.T) {
	g := NewGrid(2, 3)
	g.Cells[4] = &Scene{Title: "x"}
	assert.Equal(t, "x", g.At(1, 1).Title)
	assert.Nil(t, g.At(0, 0))
	assert.Nil(t, g.At(2, 0))
	assert.Nil(t, g.At(0, 3))
}
