package colormap

import (
	"image/color"
	"testing"
)

func TestCategoricalWraps(t *testing.T) {
	t.Parallel()

	if Categorical.RGBA(0) != Categorical.RGBA(Categorical.Len()) {
		t.Fatalf("expected palette to wrap after %d colors", Categorical.Len())
	}
	if Categorical.RGBA(-1) != Categorical.RGBA(Categorical.Len()-1) {
		t.Fatalf("negative index should wrap from the end")
	}
	if c, ok := Categorical.AtIndex(1).(color.RGBA); !ok || c != (color.RGBA{R: 255, G: 127, B: 14, A: 255}) {
		t.Fatalf("unexpected Categorical.AtIndex(1): %#v", Categorical.AtIndex(1))
	}
}

func TestHueDistinct(t *testing.T) {
	t.Parallel()

	p := Hue(4)
	seen := map[color.RGBA]bool{}
	for i := 0; i < p.Len(); i++ {
		c := p.RGBA(i)
		if c.A != 255 {
			t.Fatalf("expected opaque color, got %#v", c)
		}
		if seen[c] {
			t.Fatalf("duplicate hue color %#v", c)
		}
		seen[c] = true
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	if p, err := ByName("", 3); err != nil || p.Len() != Categorical.Len() {
		t.Fatalf("empty name should select categorical: %v", err)
	}
	if p, err := ByName("HUE", 5); err != nil || p.Len() != 5 {
		t.Fatalf("hue palette: len=%d err=%v", p.Len(), err)
	}
	if _, err := ByName("rainbow", 2); err == nil {
		t.Fatalf("expected error for unknown palette")
	}
}

func TestWithAlpha(t *testing.T) {
	t.Parallel()

	got := WithAlpha(color.RGBA{R: 10, G: 20, B: 30, A: 255}, 0.5)
	want := color.NRGBA{R: 10, G: 20, B: 30, A: 128}
	if got != want {
		t.Fatalf("WithAlpha = %#v, want %#v", got, want)
	}
	if WithAlpha(color.Black, 2).A != 255 || WithAlpha(color.Black, -1).A != 0 {
		t.Fatalf("alpha should clamp to [0, 1]")
	}
}
