package render

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/soma-tiles/trajplot/internal/scene"
	"github.com/soma-tiles/trajplot/pkg/colormap"
)

const dpi = 96

// PlotRenderer renders scenes through gonum/plot.
type PlotRenderer struct {
	config Config
}

// NewPlotRenderer creates a gonum/plot renderer.
func NewPlotRenderer(cfg Config) *PlotRenderer {
	return &PlotRenderer{config: cfg}
}

func pixels(n int) vg.Length { return vg.Length(n) * vg.Inch / dpi }

// RenderScene renders one scene.
func (r *PlotRenderer) RenderScene(s *scene.Scene) ([]byte, error) {
	p, err := r.build(s)
	if err != nil {
		return nil, err
	}
	c := vgimg.NewWith(vgimg.UseWH(pixels(r.config.Width), pixels(r.config.Height)), vgimg.UseDPI(dpi))
	p.Draw(draw.New(c))
	return writePNG(c)
}

// RenderGrid aligns one plot per cell. Nil cells get a blank plot with hidden axes.
func (r *PlotRenderer) RenderGrid(g *scene.Grid) ([]byte, error) {
	plots := make([][]*plot.Plot, g.Rows)
	for row := range plots {
		plots[row] = make([]*plot.Plot, g.Cols)
		for col := range plots[row] {
			s := g.At(row, col)
			if s == nil {
				blank := plot.New()
				blank.X.Min, blank.X.Max, blank.Y.Min, blank.Y.Max = 0, 1, 0, 1
				blank.HideAxes()
				plots[row][col] = blank
				continue
			}
			p, err := r.build(s)
			if err != nil {
				return nil, fmt.Errorf("failed to build cell %d,%d: %w", row, col, err)
			}
			plots[row][col] = p
		}
	}

	c := vgimg.NewWith(
		vgimg.UseWH(pixels(g.Cols*r.config.Width), pixels(g.Rows*r.config.Height)),
		vgimg.UseDPI(dpi),
	)
	dc := draw.New(c)
	tiles := draw.Tiles{
		Rows: g.Rows,
		Cols: g.Cols,
		PadX: vg.Millimeter * 2,
		PadY: vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for row := range plots {
		for col := range plots[row] {
			plots[row][col].Draw(canvases[row][col])
		}
	}
	return writePNG(c)
}

func writePNG(c *vgimg.Canvas) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PlotRenderer) build(s *scene.Scene) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = s.Title
	if s.Subtitle != "" {
		p.Title.Text += "\n" + s.Subtitle
	}
	p.X.Label.Text = s.XLabel
	p.Y.Label.Text = s.YLabel
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = dataRange(s)

	thumbs := map[string]plot.Thumbnailer{}
	for _, l := range s.Layers {
		switch l.Kind {
		case scene.Points:
			pts, err := scatterOf(l)
			if err != nil {
				return nil, err
			}
			if pts == nil {
				continue
			}
			p.Add(pts)
			thumbs[l.Label] = pts
		case scene.Line:
			line, err := lineOf(l)
			if err != nil {
				return nil, err
			}
			if line == nil {
				continue
			}
			p.Add(line)
			thumbs[l.Label] = line
		case scene.Ribbon:
			poly, err := ribbonOf(l)
			if err != nil {
				return nil, err
			}
			if poly == nil {
				continue
			}
			p.Add(poly)
		}
	}

	if s.ShowLegend {
		for _, e := range legendEntries(s) {
			if t, ok := thumbs[e.label]; ok {
				p.Legend.Add(e.label, t)
			}
		}
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}
	return p, nil
}

func scatterOf(l scene.Layer) (*plotter.Scatter, error) {
	var xys plotter.XYs
	var alpha []float64
	for i := range l.X {
		if i >= len(l.Y) || !finite(l.X[i]) || !finite(l.Y[i]) {
			continue
		}
		xys = append(xys, plotter.XY{X: l.X[i], Y: l.Y[i]})
		alpha = append(alpha, l.PointAlpha(i))
	}
	if len(xys) == 0 {
		return nil, nil
	}
	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s points: %w", l.Label, err)
	}
	radius := l.Style.Size
	if radius <= 0 {
		radius = 1.5
	}
	sc.GlyphStyle = draw.GlyphStyle{Color: l.Style.Color, Radius: vg.Points(radius), Shape: draw.CircleGlyph{}}
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  colormap.WithAlpha(l.Style.Color, alpha[i]),
			Radius: vg.Points(radius),
			Shape:  draw.CircleGlyph{},
		}
	}
	return sc, nil
}

func lineOf(l scene.Layer) (*plotter.Line, error) {
	var xys plotter.XYs
	for i := range l.X {
		if i >= len(l.Y) || !finite(l.X[i]) || !finite(l.Y[i]) {
			continue
		}
		xys = append(xys, plotter.XY{X: l.X[i], Y: l.Y[i]})
	}
	if len(xys) == 0 {
		return nil, nil
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s line: %w", l.Label, err)
	}
	width := l.Style.Width
	if width <= 0 {
		width = 1.5
	}
	line.Color = l.Style.Color
	line.Width = vg.Points(width)
	if l.Style.Dashed {
		line.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	}
	return line, nil
}

func ribbonOf(l scene.Layer) (*plotter.Polygon, error) {
	n := len(l.X)
	if len(l.YMin) < n || len(l.YMax) < n || n < 2 {
		return nil, nil
	}
	ring := make(plotter.XYs, 0, 2*n)
	for i := 0; i < n; i++ {
		ring = append(ring, plotter.XY{X: l.X[i], Y: l.YMax[i]})
	}
	for i := n - 1; i >= 0; i-- {
		ring = append(ring, plotter.XY{X: l.X[i], Y: l.YMin[i]})
	}
	poly, err := plotter.NewPolygon(ring)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s ribbon: %w", l.Label, err)
	}
	opacity := l.Style.Opacity
	if opacity <= 0 {
		opacity = 1
	}
	poly.Color = colormap.WithAlpha(l.Style.Color, opacity)
	poly.LineStyle.Color = color.Transparent
	poly.LineStyle.Width = 0
	return poly, nil
}
