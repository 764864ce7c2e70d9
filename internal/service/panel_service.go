package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/soma-tiles/trajplot/internal/lineage"
	"github.com/soma-tiles/trajplot/internal/scene"
	"github.com/soma-tiles/trajplot/internal/smooth"
)

// ErrGridTooSmall is returned when rows*cols cannot hold every requested gene.
var ErrGridTooSmall = errors.New("panel grid too small")

// RankingTable is an externally computed per-gene ranking.
type RankingTable interface {
	Method() string
	Score(gene string) (float64, bool)
	Rank(gene string) (int, bool)
}

// PanelOptions configures Build. Zero Rows and Cols pick the smallest square
// grid; a single zero dimension is derived from the other.
type PanelOptions struct {
	Rows int
	Cols int
	// NullModel adds the pooled null-model curve to every cell.
	NullModel bool
	// Span is the loess span; 0 uses smooth.DefaultSpan.
	Span float64
	// Workers > 1 fits genes concurrently.
	Workers    int
	ShowLegend bool
}

// GeneFailure records a gene whose cell was left empty.
type GeneFailure struct {
	Gene string
	Err  error
}

func (f GeneFailure) Error() string { return fmt.Sprintf("%s: %v", f.Gene, f.Err) }

func (f GeneFailure) Unwrap() error { return f.Err }

// Panel is a grid of single-gene scenes in input order.
type Panel struct {
	Grid     *scene.Grid
	Genes    []string
	Results  []*Result // nil for failed genes
	Failures []GeneFailure
}

// PanelService builds multi-gene panels on top of a CurveService.
type PanelService struct {
	curves *CurveService
}

// NewPanelService creates a new panel service.
func NewPanelService(curves *CurveService) *PanelService {
	return &PanelService{curves: curves}
}

// Build fits one loess scene per gene and arranges them in a grid annotated
// with the ranking. A failing gene leaves its cell empty and is reported in
// Panel.Failures; only an undersized grid or a cancelled context fail the call.
func (s *PanelService) Build(ctx context.Context, ds lineage.Dataset, ranking RankingTable, genes []string, opts PanelOptions) (*Panel, error) {
	rows, cols, err := PanelDims(len(genes), opts.Rows, opts.Cols)
	if err != nil {
		return nil, err
	}

	label := ""
	if ranking != nil {
		label = methodLabel(ranking.Method())
	}
	fitOpts := Options{
		Strategy:          smooth.Loess{Span: opts.Span},
		ComputeRegression: true,
		ComputeNullModel:  opts.NullModel,
		ShowLegend:        opts.ShowLegend,
	}

	results := make([]*Result, len(genes))
	errs := make([]error, len(genes))

	g, gctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, gene := range genes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.curves.FitAndPlot(ds, gene, fitOpts)
			if err != nil {
				errs[i] = err
				return nil
			}
			res.Scene.Subtitle = subtitle(label, ranking, gene)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("panel build cancelled: %w", err)
	}

	panel := &Panel{
		Grid:    scene.NewGrid(rows, cols),
		Genes:   append([]string(nil), genes...),
		Results: results,
	}
	for i, res := range results {
		if res == nil {
			log.Printf("[PanelService] gene %s failed: %v", genes[i], errs[i])
			panel.Failures = append(panel.Failures, GeneFailure{Gene: genes[i], Err: errs[i]})
			continue
		}
		panel.Grid.Cells[i] = res.Scene
	}
	return panel, nil
}

// PanelDims resolves the grid for n genes.
func PanelDims(n, rows, cols int) (int, int, error) {
	if rows < 0 || cols < 0 {
		return 0, 0, fmt.Errorf("%w: negative dimensions %dx%d", ErrGridTooSmall, rows, cols)
	}
	switch {
	case rows == 0 && cols == 0:
		side := int(math.Ceil(math.Sqrt(float64(n))))
		if side == 0 {
			side = 1
		}
		rows, cols = side, side
	case rows == 0:
		rows = ceilDiv(n, cols)
	case cols == 0:
		cols = ceilDiv(n, rows)
	}
	if rows*cols < n {
		return 0, 0, fmt.Errorf("%w: %dx%d grid for %d genes", ErrGridTooSmall, rows, cols, n)
	}
	return rows, cols, nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

// methodLabel shortens a ranking method name for subtitles.
func methodLabel(method string) string {
	m := strings.ToLower(method)
	switch {
	case strings.Contains(m, "dtw"):
		return "dtw"
	case strings.Contains(m, "likelihood"):
		return "lr"
	default:
		return ""
	}
}

func subtitle(label string, ranking RankingTable, gene string) string {
	dist, rank := "NA", "NA"
	if ranking != nil {
		if d, ok := ranking.Score(gene); ok {
			dist = strconv.FormatFloat(math.Round(d*100)/100, 'f', -1, 64)
		}
		if r, ok := ranking.Rank(gene); ok {
			rank = strconv.Itoa(r)
		}
	}
	return fmt.Sprintf("%s.dist: %s | %s.rank: %s", label, dist, label, rank)
}
