package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soma-tiles/trajplot/internal/scene"
)

func testScene() *scene.Scene {
	red := color.RGBA{R: 230, G: 25, B: 75, A: 255}
	s := &scene.Scene{Title: "GATA1", Subtitle: "dtw.dist: 0.12 | dtw.rank: 1", XLabel: "Pseudotime", YLabel: "Log(expression + 1)", ShowLegend: true}
	xs := []float64{0, 1, 2, 3, 4}
	s.Add(scene.Layer{Kind: scene.Points, Label: "lineage1", X: xs, Y: []float64{1, 2, 1.5, 3, 2.5}, Alpha: []float64{1, 0.5, 0, 1, 1}, Style: scene.Style{Color: red, Size: 2}})
	s.Add(scene.Layer{Kind: scene.Ribbon, Label: "lineage1", X: xs, YMin: []float64{0.5, 1, 1, 2, 2}, YMax: []float64{1.5, 2.5, 2, 3.5, 3}, Style: scene.Style{Color: red, Opacity: 0.2}})
	s.Add(scene.Layer{Kind: scene.Line, Label: "lineage1", X: xs, Y: []float64{1, 1.7, 1.6, 2.7, 2.6}, Style: scene.Style{Color: red, Width: 1.5}})
	s.Add(scene.Layer{Kind: scene.Line, Label: "null model", X: xs, Y: []float64{1.2, 1.5, 1.8, 2.1, 2.4}, Style: scene.Style{Color: color.RGBA{A: 255}, Dashed: true}})
	return s
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestNew(t *testing.T) {
	r, err := New(Config{Width: 100, Height: 80})
	require.NoError(t, err)
	assert.IsType(t, &GGRenderer{}, r)

	r, err = New(Config{Backend: "plot", Width: 100, Height: 80})
	require.NoError(t, err)
	assert.IsType(t, &PlotRenderer{}, r)

	_, err = New(Config{Backend: "svg", Width: 100, Height: 80})
	assert.ErrorContains(t, err, "unknown render backend")
	_, err = New(Config{Width: 0, Height: 80})
	assert.Error(t, err)
}

func TestRenderScene(t *testing.T) {
	for _, backend := range []string{"gg", "plot"} {
		t.Run(backend, func(t *testing.T) {
			r, err := New(Config{Backend: backend, Width: 320, Height: 240})
			require.NoError(t, err)

			data, err := r.RenderScene(testScene())
			require.NoError(t, err)
			img := decode(t, data)
			assert.Equal(t, 320, img.Bounds().Dx())
			assert.Equal(t, 240, img.Bounds().Dy())
		})
	}
}

func TestRenderScene_Empty(t *testing.T) {
	for _, backend := range []string{"gg", "plot"} {
		r, err := New(Config{Backend: backend, Width: 120, Height: 90})
		require.NoError(t, err)
		data, err := r.RenderScene(&scene.Scene{Title: "empty"})
		require.NoError(t, err, backend)
		decode(t, data)
	}
}

func TestRenderGrid(t *testing.T) {
	g := scene.NewGrid(2, 2)
	g.Cells[0] = testScene()
	g.Cells[1] = testScene()
	g.Cells[2] = testScene()

	for _, backend := range []string{"gg", "plot"} {
		t.Run(backend, func(t *testing.T) {
			r, err := New(Config{Backend: backend, Width: 200, Height: 150})
			require.NoError(t, err)
			data, err := r.RenderGrid(g)
			require.NoError(t, err)
			img := decode(t, data)
			assert.Equal(t, 400, img.Bounds().Dx())
			assert.Equal(t, 300, img.Bounds().Dy())
		})
	}
}

func TestGGRenderGrid_BlankCellIsWhite(t *testing.T) {
	g := scene.NewGrid(1, 2)
	g.Cells[0] = testScene()
	data, err := NewGGRenderer(Config{Width: 100, Height: 100}).RenderGrid(g)
	require.NoError(t, err)
	img := decode(t, data)

	r, gr, b, _ := img.At(150, 50).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, gr, b})
}

func TestLegendEntries(t *testing.T) {
	entries := legendEntries(testScene())
	require.Len(t, entries, 2)
	assert.Equal(t, "lineage1", entries[0].label)
	assert.Equal(t, scene.Line, entries[0].layer.Kind)
	assert.Equal(t, "null model", entries[1].label)
	assert.True(t, entries[1].layer.Style.Dashed)
}

func TestDataRange(t *testing.T) {
	xmin, xmax, ymin, ymax := dataRange(&scene.Scene{})
	assert.Equal(t, [4]float64{0, 1, 0, 1}, [4]float64{xmin, xmax, ymin, ymax})

	s := &scene.Scene{}
	s.Add(scene.Layer{Kind: scene.Points, X: []float64{2, 2}, Y: []float64{0, 10}})
	xmin, xmax, ymin, ymax = dataRange(s)
	assert.Equal(t, 1.5, xmin)
	assert.Equal(t, 2.5, xmax)
	assert.InDelta(t, -0.5, ymin, 1e-12)
	assert.InDelta(t, 10.5, ymax, 1e-12)
}
