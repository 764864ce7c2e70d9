// Package service assembles lineage smoother plots: single-gene curve scenes and
// multi-gene panels.
package service

import (
	"errors"
	"fmt"
	"image/color"
	"log"

	"github.com/soma-tiles/trajplot/internal/lineage"
	"github.com/soma-tiles/trajplot/internal/scene"
	"github.com/soma-tiles/trajplot/internal/smooth"
	"github.com/soma-tiles/trajplot/pkg/colormap"
)

// NullModelLabel is the model and legend label of the pooled fit.
const NullModelLabel = "null model"

// Options selects the layers built by FitAndPlot.
type Options struct {
	// Strategy fits the curves; nil means loess with the default span.
	Strategy smooth.Strategy

	ComputeRegression bool
	ComputeNullModel  bool
	ShowBand          bool
	ShowUnshared      bool
	ShowLegend        bool

	// SkipEmptyLineages records an empty lineage as a warning and keeps going
	// instead of failing the gene.
	SkipEmptyLineages bool
	// OwnGridLength sizes each lineage's prediction grid by its own cell count
	// instead of the first lineage's.
	OwnGridLength bool
}

// DefaultOptions fits loess curves and the null model with a legend.
func DefaultOptions() Options {
	return Options{
		Strategy:          smooth.Loess{Span: smooth.DefaultSpan},
		ComputeRegression: true,
		ComputeNullModel:  true,
		ShowLegend:        true,
	}
}

// Result is a built scene and the models behind its curves, keyed by
// "lineage1", "lineage2", ... and NullModelLabel.
type Result struct {
	Gene     string
	Scene    *scene.Scene
	Models   map[string]smooth.Model
	Warnings []error
}

// CurveServiceConfig contains curve service configuration.
type CurveServiceConfig struct {
	Palette   colormap.CategoricalColormap
	PointSize float64
	LineWidth float64
	// MaxScatterPoints caps the raw points drawn per lineage; 0 draws all.
	MaxScatterPoints int
	SampleSeed       int64
}

// CurveService builds single-gene scenes.
type CurveService struct {
	palette    colormap.CategoricalColormap
	pointSize  float64
	lineWidth  float64
	maxPoints  int
	sampleSeed int64
}

// NewCurveService creates a new curve service.
func NewCurveService(cfg CurveServiceConfig) *CurveService {
	s := &CurveService{
		palette:    cfg.Palette,
		pointSize:  cfg.PointSize,
		lineWidth:  cfg.LineWidth,
		maxPoints:  cfg.MaxScatterPoints,
		sampleSeed: cfg.SampleSeed,
	}
	if s.palette.Len() == 0 {
		s.palette = colormap.Categorical
	}
	if s.pointSize <= 0 {
		s.pointSize = 1.5
	}
	if s.lineWidth <= 0 {
		s.lineWidth = 1.5
	}
	return s
}

// lineageFits holds the per-lineage state of one FitAndPlot call.
type lineageFits struct {
	all    []*lineage.Subset // every cell with pseudotime, for scatter and bands
	subs   []*lineage.Subset // weighted cells; nil when skipped
	models []smooth.Model
	grids  [][]float64
}

// FitAndPlot builds the scene for one gene.
//
// Extraction errors fail the call. A diverging fit keeps the scatter and
// returns no models, with the divergence in Result.Warnings.
func (s *CurveService) FitAndPlot(ds lineage.Dataset, gene string, opts Options) (*Result, error) {
	strategy := opts.Strategy
	if strategy == nil {
		strategy = smooth.Loess{Span: smooth.DefaultSpan}
	}
	resp := strategy.Response()
	n := ds.NumLineages()

	// Check the gene up front so it fails even without lineages.
	if _, err := ds.Counts(gene); err != nil {
		return nil, err
	}

	res := &Result{
		Gene:   gene,
		Models: map[string]smooth.Model{},
		Scene: &scene.Scene{
			Title:      gene,
			XLabel:     "Pseudotime",
			YLabel:     yLabel(resp),
			ShowLegend: opts.ShowLegend,
		},
	}

	st := &lineageFits{
		all:    make([]*lineage.Subset, n),
		subs:   make([]*lineage.Subset, n),
		models: make([]smooth.Model, n),
		grids:  make([][]float64, n),
	}

	// 1. scatter
	var points []scene.Layer
	for l := 0; l < n; l++ {
		all, err := lineage.ExtractAll(ds, gene, l, resp)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s for %s: %w", lineage.Label(l), gene, err)
		}
		st.all[l] = all
		points = append(points, s.scatterLayer(l, all))
	}

	if !(opts.ComputeRegression || opts.ComputeNullModel || opts.ShowBand || opts.ShowUnshared) {
		res.Scene.Layers = points
		return res, nil
	}

	for l := 0; l < n; l++ {
		sub, err := lineage.Extract(ds, gene, l, resp)
		if err != nil {
			if opts.SkipEmptyLineages && errors.Is(err, lineage.ErrEmptyLineage) {
				log.Printf("[CurveService] %s: skipping %s: %v", gene, lineage.Label(l), err)
				res.Warnings = append(res.Warnings, err)
				continue
			}
			return nil, fmt.Errorf("failed to extract %s for %s: %w", lineage.Label(l), gene, err)
		}
		st.subs[l] = sub
	}
	for l, sub := range st.subs {
		if sub != nil {
			st.grids[l] = lineage.Grid(sub.MaxPseudotime(), lineage.GridLength(st.subs[0], sub, opts.OwnGridLength))
		}
	}

	// 2. per-lineage regression
	var lines []scene.Layer
	if opts.ComputeRegression || opts.ShowUnshared {
		for l, sub := range st.subs {
			if sub == nil {
				continue
			}
			model, err := strategy.Fit(sub)
			if err != nil {
				return s.divergence(res, points, gene, lineage.Label(l), err)
			}
			st.models[l] = model
			if opts.ComputeRegression {
				res.Models[lineage.Label(l)] = model
				lines = append(lines, s.curveLayer(lineage.Label(l), st.grids[l], model, s.palette.RGBA(l), false))
			}
		}
	}

	// 3. null model
	if opts.ComputeNullModel {
		layer, model, err := s.nullModel(strategy, st, opts.OwnGridLength)
		if err != nil {
			return s.divergence(res, points, gene, NullModelLabel, err)
		}
		if model != nil {
			res.Models[NullModelLabel] = model
			lines = append(lines, layer)
		}
	}

	// 4. bands
	var ribbons []scene.Layer
	if opts.ShowBand {
		var err error
		ribbons, err = s.bands(strategy, st, res)
		if err != nil {
			return nil, fmt.Errorf("failed to fit band for %s: %w", gene, err)
		}
	}

	// 5. unshared predictions
	var unshared []scene.Layer
	if opts.ShowUnshared {
		unshared = s.unsharedLayers(st, res)
	}

	layers := make([]scene.Layer, 0, len(points)+len(ribbons)+len(lines)+len(unshared))
	layers = append(layers, points...)
	layers = append(layers, ribbons...)
	layers = append(layers, lines...)
	layers = append(layers, unshared...)
	res.Scene.Layers = layers
	return res, nil
}

// divergence turns a fit failure into a scatter-only result. Other errors fail.
func (s *CurveService) divergence(res *Result, points []scene.Layer, gene, label string, err error) (*Result, error) {
	if !errors.Is(err, smooth.ErrFitDivergence) {
		return nil, fmt.Errorf("failed to fit %s for %s: %w", label, gene, err)
	}
	log.Printf("[CurveService] %s: %s fit diverged, returning scatter only: %v", gene, label, err)
	res.Models = map[string]smooth.Model{}
	res.Scene.Layers = points
	res.Warnings = append(res.Warnings, fmt.Errorf("%s: %w", label, err))
	return res, nil
}

func (s *CurveService) nullModel(strategy smooth.Strategy, st *lineageFits, ownGrid bool) (scene.Layer, smooth.Model, error) {
	var parts []*lineage.Subset
	for _, sub := range st.subs {
		if sub != nil {
			parts = append(parts, sub)
		}
	}
	if len(parts) == 0 {
		return scene.Layer{}, nil, nil
	}
	pooled := lineage.Pool(parts...)
	model, err := strategy.Fit(pooled)
	if err != nil {
		return scene.Layer{}, nil, err
	}
	grid := lineage.Grid(pooled.MaxPseudotime(), lineage.GridLength(st.subs[0], pooled, ownGrid))
	black := color.RGBA{A: 255}
	return s.curveLayer(NullModelLabel, grid, model, black, true), model, nil
}

func (s *CurveService) bands(strategy smooth.Strategy, st *lineageFits, res *Result) ([]scene.Layer, error) {
	loess, ok := strategy.(smooth.Loess)
	if !ok {
		res.Warnings = append(res.Warnings, fmt.Errorf("standard deviation band needs loess, got %s", strategy.Name()))
		return nil, nil
	}
	var out []scene.Layer
	for l, all := range st.all {
		if all.Len() == 0 || st.grids[l] == nil {
			continue
		}
		band, err := smooth.FitBand(all, loess.Span, st.grids[l])
		if err != nil {
			return nil, err
		}
		out = append(out, scene.Layer{
			Kind:  scene.Ribbon,
			Label: lineage.Label(l),
			X:     band.X,
			YMin:  band.Lower,
			YMax:  band.Upper,
			Style: scene.Style{Color: s.palette.RGBA(l), Opacity: 0.2},
		})
	}
	return out, nil
}

func (s *CurveService) unsharedLayers(st *lineageFits, res *Result) []scene.Layer {
	var out []scene.Layer
	for l, sub := range st.subs {
		model := st.models[l]
		if sub == nil || model == nil {
			continue
		}
		thr, degenerate := lineage.UnsharedThreshold(sub.Weights)
		if degenerate {
			res.Warnings = append(res.Warnings, fmt.Errorf("%s: %w, threshold %.1f", lineage.Label(l), lineage.ErrDegenerateThreshold, thr))
		}
		idx := lineage.SelectUnshared(sub.Weights, thr)
		if len(idx) == 0 {
			continue
		}
		x := make([]float64, len(idx))
		for i, j := range idx {
			x[i] = sub.Pseudotime[j]
		}
		out = append(out, scene.Layer{
			Kind:  scene.Points,
			Label: lineage.Label(l) + " unshared",
			X:     x,
			Y:     model.Predict(x),
			Style: scene.Style{Color: s.palette.RGBA(l), Size: s.pointSize * 1.5, Opacity: 0.5},
		})
	}
	return out
}

func (s *CurveService) scatterLayer(l int, all *lineage.Subset) scene.Layer {
	layer := scene.Layer{
		Kind:  scene.Points,
		Label: lineage.Label(l),
		Style: scene.Style{Color: s.palette.RGBA(l), Size: s.pointSize},
	}
	if s.maxPoints > 0 && all.Len() > s.maxPoints {
		for _, i := range deterministicSample(all.Cells, s.maxPoints, s.sampleSeed) {
			layer.X = append(layer.X, all.Pseudotime[i])
			layer.Y = append(layer.Y, all.Expression[i])
			layer.Alpha = append(layer.Alpha, all.Weights[i])
		}
		return layer
	}
	layer.X = all.Pseudotime
	layer.Y = all.Expression
	layer.Alpha = all.Weights
	return layer
}

func (s *CurveService) curveLayer(label string, grid []float64, m smooth.Model, c color.RGBA, dashed bool) scene.Layer {
	return scene.Layer{
		Kind:  scene.Line,
		Label: label,
		X:     grid,
		Y:     m.Predict(grid),
		Style: scene.Style{Color: c, Dashed: dashed, Width: s.lineWidth},
	}
}

func yLabel(resp lineage.Response) string {
	if resp == lineage.RawCounts {
		return "Expression"
	}
	return "Log(expression + 1)"
}
