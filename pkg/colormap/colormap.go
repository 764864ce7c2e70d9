// Package colormap provides color schemes for visualization.
package colormap

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strings"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// CategoricalColormap provides distinct colors for categories.
type CategoricalColormap struct {
	colors []color.RGBA
}

// At returns color at position t.
func (c CategoricalColormap) At(t float64) color.Color {
	idx := int(t * float64(len(c.colors)))
	if idx >= len(c.colors) {
		idx = len(c.colors) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return c.colors[idx]
}

// AtIndex returns color at index (wraps around).
func (c CategoricalColormap) AtIndex(i int) color.Color {
	return c.RGBA(i)
}

// RGBA is AtIndex without the interface conversion.
func (c CategoricalColormap) RGBA(i int) color.RGBA {
	n := len(c.colors)
	return c.colors[((i%n)+n)%n]
}

// Len is the number of distinct colors before wrapping.
func (c CategoricalColormap) Len() int { return len(c.colors) }

// Categorical colormap with 20 distinct colors
var Categorical = CategoricalColormap{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
		{174, 199, 232, 255}, // Light blue
		{255, 187, 120, 255}, // Light orange
		{152, 223, 138, 255}, // Light green
		{255, 152, 150, 255}, // Light red
		{197, 176, 213, 255}, // Light purple
		{196, 156, 148, 255}, // Light brown
		{247, 182, 210, 255}, // Light pink
		{199, 199, 199, 255}, // Light gray
		{219, 219, 141, 255}, // Light olive
		{158, 218, 229, 255}, // Light cyan
	},
}

// Dark2 is the 8-color ColorBrewer qualitative palette.
var Dark2 = CategoricalColormap{
	colors: []color.RGBA{
		{27, 158, 119, 255},
		{217, 95, 2, 255},
		{117, 112, 179, 255},
		{231, 41, 138, 255},
		{102, 166, 30, 255},
		{230, 171, 2, 255},
		{166, 118, 29, 255},
		{102, 102, 102, 255},
	},
}

// Hue spaces n colors evenly around the HCL-like hue wheel at fixed
// lightness, the default look of discrete scales in ggplot.
func Hue(n int) CategoricalColormap {
	if n < 1 {
		n = 1
	}
	c := CategoricalColormap{colors: make([]color.RGBA, n)}
	for i := range c.colors {
		h := math.Mod(15+360*float64(i)/float64(n), 360)
		c.colors[i] = hsl(h, 0.65, 0.55)
	}
	return c
}

func hsl(h, s, l float64) color.RGBA {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to8 := func(v float64) uint8 { return uint8(math.Round((v + m) * 255)) }
	return color.RGBA{to8(r), to8(g), to8(b), 255}
}

var palettes = map[string]func(n int) CategoricalColormap{
	"categorical": func(int) CategoricalColormap { return Categorical },
	"dark2":       func(int) CategoricalColormap { return Dark2 },
	"hue":         Hue,
}

// ByName returns the named lineage palette sized for n lineages.
func ByName(name string, n int) (CategoricalColormap, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "categorical"
	}
	f, ok := palettes[key]
	if !ok {
		return CategoricalColormap{}, fmt.Errorf("unknown palette %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(n), nil
}

// Names lists the registered palette names.
func Names() []string {
	out := make([]string, 0, len(palettes))
	for k := range palettes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WithAlpha returns c with its opacity scaled by a in [0, 1]. The result is
// non-premultiplied.
func WithAlpha(c color.Color, a float64) color.NRGBA {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if a < 0 || math.IsNaN(a) {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	n.A = uint8(math.Round(float64(n.A) * a))
	return n
}
