// Package render draws scenes and scene grids to PNG.
//
// Two backends are available: "gg" rasterises with fogleman/gg, "plot" builds
// gonum/plot plots and aligns panels with plot.Align.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"

	"github.com/soma-tiles/trajplot/internal/scene"
)

// Config contains renderer configuration. Width and Height are the pixel size
// of one scene; a grid is Cols*Width by Rows*Height.
type Config struct {
	Backend string
	Width   int
	Height  int
}

// Renderer encodes scenes as PNG images.
type Renderer interface {
	RenderScene(s *scene.Scene) ([]byte, error)
	RenderGrid(g *scene.Grid) ([]byte, error)
}

// New returns the renderer for cfg.Backend. An empty backend selects "gg".
func New(cfg Config) (Renderer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid render size %dx%d", cfg.Width, cfg.Height)
	}
	switch cfg.Backend {
	case "", "gg":
		return NewGGRenderer(cfg), nil
	case "plot":
		return NewPlotRenderer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown render backend %q (want gg or plot)", cfg.Backend)
	}
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 64*1024))
	},
}

func encodePNG(img image.Image) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// legendEntry is one deduplicated legend row.
type legendEntry struct {
	label string
	layer scene.Layer
}

// legendEntries lists one entry per label. A line is preferred over points or
// a ribbon with the same label.
func legendEntries(s *scene.Scene) []legendEntry {
	var out []legendEntry
	seen := map[string]int{}
	for _, l := range s.Layers {
		if l.Label == "" {
			continue
		}
		i, ok := seen[l.Label]
		if !ok {
			seen[l.Label] = len(out)
			out = append(out, legendEntry{label: l.Label, layer: l})
			continue
		}
		if l.Kind == scene.Line && out[i].layer.Kind != scene.Line {
			out[i].layer = l
		}
	}
	return out
}

// dataRange returns padded axis limits for a scene.
func dataRange(s *scene.Scene) (xmin, xmax, ymin, ymax float64) {
	xmin, xmax, ymin, ymax, ok := s.Bounds()
	if !ok {
		return 0, 1, 0, 1
	}
	xmin, xmax = pad(xmin, xmax)
	ymin, ymax = pad(ymin, ymax)
	return xmin, xmax, ymin, ymax
}

func pad(lo, hi float64) (float64, float64) {
	if hi-lo < 1e-12 {
		return lo - 0.5, hi + 0.5
	}
	d := 0.05 * (hi - lo)
	return lo - d, hi + d
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
