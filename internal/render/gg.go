package render

import (
	"image/color"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"gonum.org/v1/plot"

	"github.com/soma-tiles/trajplot/internal/scene"
	"github.com/soma-tiles/trajplot/pkg/colormap"
)

const (
	marginLeft   = 56.0
	marginRight  = 16.0
	marginTop    = 44.0
	marginBottom = 40.0
	legendWidth  = 110.0
	legendRow    = 16.0
)

// GGRenderer rasterises scenes with fogleman/gg.
type GGRenderer struct {
	config      Config
	contextPool sync.Pool
}

// NewGGRenderer creates a gg renderer. Scene contexts are pooled.
func NewGGRenderer(cfg Config) *GGRenderer {
	return &GGRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
	}
}

// RenderScene renders one scene.
func (r *GGRenderer) RenderScene(s *scene.Scene) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	r.draw(dc, s)
	return encodePNG(dc.Image())
}

// RenderGrid renders every cell into a pooled context and copies it into place.
// Nil cells stay blank.
func (r *GGRenderer) RenderGrid(g *scene.Grid) ([]byte, error) {
	w, h := r.config.Width, r.config.Height
	out := gg.NewContext(g.Cols*w, g.Rows*h)
	out.SetColor(color.White)
	out.Clear()

	cell := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(cell)

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			s := g.At(row, col)
			if s == nil {
				continue
			}
			r.draw(cell, s)
			out.DrawImage(cell.Image(), col*w, row*h)
		}
	}
	return encodePNG(out.Image())
}

// frame maps data coordinates into the plot area of a context.
type frame struct {
	left, top, width, height float64
	xmin, xmax, ymin, ymax   float64
}

func (f frame) px(x float64) float64 {
	return f.left + (x-f.xmin)/(f.xmax-f.xmin)*f.width
}

func (f frame) py(y float64) float64 {
	return f.top + f.height - (y-f.ymin)/(f.ymax-f.ymin)*f.height
}

func (r *GGRenderer) draw(dc *gg.Context, s *scene.Scene) {
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetDash()

	right := marginRight
	entries := legendEntries(s)
	if s.ShowLegend && len(entries) > 0 {
		right += legendWidth
	}
	f := frame{
		left:   marginLeft,
		top:    marginTop,
		width:  float64(dc.Width()) - marginLeft - right,
		height: float64(dc.Height()) - marginTop - marginBottom,
	}
	f.xmin, f.xmax, f.ymin, f.ymax = dataRange(s)

	r.drawAxes(dc, s, f)

	dc.Push()
	dc.DrawRectangle(f.left, f.top, f.width, f.height)
	dc.Clip()
	for _, l := range s.Layers {
		switch l.Kind {
		case scene.Points:
			r.drawPoints(dc, l, f)
		case scene.Line:
			r.drawLine(dc, l, f)
		case scene.Ribbon:
			r.drawRibbon(dc, l, f)
		}
	}
	dc.ResetClip()
	dc.Pop()

	if s.ShowLegend && len(entries) > 0 {
		r.drawLegend(dc, entries, f.left+f.width+12, f.top)
	}
}

func (r *GGRenderer) drawAxes(dc *gg.Context, s *scene.Scene, f frame) {
	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	dc.DrawRectangle(f.left, f.top, f.width, f.height)
	dc.Stroke()

	for _, t := range (plot.DefaultTicks{}).Ticks(f.xmin, f.xmax) {
		if t.IsMinor() {
			continue
		}
		x := f.px(t.Value)
		dc.DrawLine(x, f.top+f.height, x, f.top+f.height+4)
		dc.Stroke()
		dc.DrawStringAnchored(t.Label, x, f.top+f.height+6, 0.5, 1)
	}
	for _, t := range (plot.DefaultTicks{}).Ticks(f.ymin, f.ymax) {
		if t.IsMinor() {
			continue
		}
		y := f.py(t.Value)
		dc.DrawLine(f.left-4, y, f.left, y)
		dc.Stroke()
		dc.DrawStringAnchored(t.Label, f.left-6, y, 1, 0.5)
	}

	dc.DrawStringAnchored(s.Title, f.left+f.width/2, 6, 0.5, 1)
	if s.Subtitle != "" {
		dc.DrawStringAnchored(s.Subtitle, f.left+f.width/2, 22, 0.5, 1)
	}
	dc.DrawStringAnchored(s.XLabel, f.left+f.width/2, float64(dc.Height())-4, 0.5, 0)

	dc.Push()
	dc.RotateAbout(-math.Pi/2, 12, f.top+f.height/2)
	dc.DrawStringAnchored(s.YLabel, 12, f.top+f.height/2, 0.5, 0.5)
	dc.Pop()
}

func (r *GGRenderer) drawPoints(dc *gg.Context, l scene.Layer, f frame) {
	radius := l.Style.Size
	if radius <= 0 {
		radius = 1.5
	}
	for i := range l.X {
		if i >= len(l.Y) || !finite(l.X[i]) || !finite(l.Y[i]) {
			continue
		}
		a := l.PointAlpha(i)
		if a <= 0 {
			continue
		}
		dc.SetColor(colormap.WithAlpha(l.Style.Color, a))
		dc.DrawCircle(f.px(l.X[i]), f.py(l.Y[i]), radius)
		dc.Fill()
	}
}

func (r *GGRenderer) drawLine(dc *gg.Context, l scene.Layer, f frame) {
	width := l.Style.Width
	if width <= 0 {
		width = 1.5
	}
	dc.SetColor(l.Style.Color)
	dc.SetLineWidth(width)
	if l.Style.Dashed {
		dc.SetDash(6, 4)
	}
	started := false
	for i := range l.X {
		if i >= len(l.Y) || !finite(l.X[i]) || !finite(l.Y[i]) {
			started = false
			continue
		}
		if !started {
			dc.MoveTo(f.px(l.X[i]), f.py(l.Y[i]))
			started = true
			continue
		}
		dc.LineTo(f.px(l.X[i]), f.py(l.Y[i]))
	}
	dc.Stroke()
	dc.SetDash()
}

func (r *GGRenderer) drawRibbon(dc *gg.Context, l scene.Layer, f frame) {
	n := len(l.X)
	if len(l.YMin) < n || len(l.YMax) < n || n < 2 {
		return
	}
	opacity := l.Style.Opacity
	if opacity <= 0 {
		opacity = 1
	}
	dc.SetColor(colormap.WithAlpha(l.Style.Color, opacity))
	for i := 0; i < n; i++ {
		dc.LineTo(f.px(l.X[i]), f.py(l.YMax[i]))
	}
	for i := n - 1; i >= 0; i-- {
		dc.LineTo(f.px(l.X[i]), f.py(l.YMin[i]))
	}
	dc.ClosePath()
	dc.Fill()
}

func (r *GGRenderer) drawLegend(dc *gg.Context, entries []legendEntry, x, y float64) {
	for i, e := range entries {
		cy := y + float64(i)*legendRow + legendRow/2
		st := e.layer.Style
		switch e.layer.Kind {
		case scene.Line:
			dc.SetColor(st.Color)
			dc.SetLineWidth(2)
			if st.Dashed {
				dc.SetDash(4, 2)
			}
			dc.DrawLine(x, cy, x+16, cy)
			dc.Stroke()
			dc.SetDash()
		case scene.Ribbon:
			dc.SetColor(colormap.WithAlpha(st.Color, 0.4))
			dc.DrawRectangle(x, cy-5, 16, 10)
			dc.Fill()
		default:
			dc.SetColor(st.Color)
			dc.DrawCircle(x+8, cy, 3)
			dc.Fill()
		}
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(e.label, x+22, cy, 0, 0.5)
	}
}
