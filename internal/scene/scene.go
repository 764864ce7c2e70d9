// Package scene describes backend-neutral plot scenes: layers of points, lines
// and ribbons with labels, plus grids of scenes for panels.
package scene

import (
	"image/color"
	"math"
)

// Kind is the geometry of a layer.
type Kind string

const (
	Points Kind = "points"
	Line   Kind = "line"
	Ribbon Kind = "ribbon"
)

// Style controls how a layer is drawn.
type Style struct {
	Color   color.RGBA
	Dashed  bool
	Width   float64 // line width in points
	Size    float64 // point radius in points
	Opacity float64 // multiplied with per-point alpha; 0 means opaque
}

// Layer is one drawable series. Points may carry per-point Alpha; ribbons use
// YMin and YMax instead of Y.
type Layer struct {
	Kind  Kind
	Label string
	X     []float64
	Y     []float64
	YMin  []float64
	YMax  []float64
	Alpha []float64
	Style Style
}

// Len is the number of points in the layer.
func (l *Layer) Len() int { return len(l.X) }

// PointAlpha returns the effective opacity of point i.
func (l *Layer) PointAlpha(i int) float64 {
	a := 1.0
	if i < len(l.Alpha) {
		a = l.Alpha[i]
	}
	if l.Style.Opacity > 0 {
		a *= l.Style.Opacity
	}
	return a
}

// Scene is a single plot.
type Scene struct {
	Title      string
	Subtitle   string
	XLabel     string
	YLabel     string
	ShowLegend bool
	Layers     []Layer
}

// Add appends a layer and returns the scene for chaining.
func (s *Scene) Add(l Layer) *Scene {
	s.Layers = append(s.Layers, l)
	return s
}

// LayersOf returns the layers of the given kind in drawing order.
func (s *Scene) LayersOf(kind Kind) []Layer {
	var out []Layer
	for _, l := range s.Layers {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}

// Layer returns the first layer of the given kind and label.
func (s *Scene) Layer(kind Kind, label string) (Layer, bool) {
	for _, l := range s.Layers {
		if l.Kind == kind && l.Label == label {
			return l, true
		}
	}
	return Layer{}, false
}

// Bounds is the data range covered by all layers, ignoring NaN values. ok is
// false for a scene with no finite data.
func (s *Scene) Bounds() (xmin, xmax, ymin, ymax float64, ok bool) {
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	see := func(x, y float64) {
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return
		}
		xmin, xmax = math.Min(xmin, x), math.Max(xmax, x)
		ymin, ymax = math.Min(ymin, y), math.Max(ymax, y)
		ok = true
	}
	for _, l := range s.Layers {
		for i, x := range l.X {
			if l.Kind == Ribbon {
				if i < len(l.YMin) {
					see(x, l.YMin[i])
				}
				if i < len(l.YMax) {
					see(x, l.YMax[i])
				}
				continue
			}
			if i < len(l.Y) {
				see(x, l.Y[i])
			}
		}
	}
	return xmin, xmax, ymin, ymax, ok
}

// Grid is a row-major arrangement of scenes. Nil cells are left empty.
type Grid struct {
	Rows  int
	Cols  int
	Cells []*Scene
}

// NewGrid allocates a rows x cols grid of empty cells.
func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Cells: make([]*Scene, rows*cols)}
}

// At returns the scene at row r and column c, or nil.
func (g *Grid) At(r, c int) *Scene {
	i := r*g.Cols + c
	if r < 0 || c < 0 || c >= g.Cols || i >= len(g.Cells) {
		return nil
	}
	return g.Cells[i]
}
