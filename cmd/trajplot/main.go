// Package main is the entry point for the trajplot CLI.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soma-tiles/trajplot/internal/cache"
	"github.com/soma-tiles/trajplot/internal/config"
	"github.com/soma-tiles/trajplot/internal/data/ranking"
	"github.com/soma-tiles/trajplot/internal/data/soma"
	"github.com/soma-tiles/trajplot/internal/data/zarr"
	"github.com/soma-tiles/trajplot/internal/lineage"
	"github.com/soma-tiles/trajplot/internal/render"
	"github.com/soma-tiles/trajplot/internal/service"
	"github.com/soma-tiles/trajplot/internal/smooth"
	"github.com/soma-tiles/trajplot/pkg/colormap"
)

var (
	configPath string
	datasetID  string
	outPath    string
	backend    string

	strategyName string
	span         float64
	splineDF     int
	family       string
	noRegression bool
	noNullModel  bool
	showBand     bool
	showUnshared bool
	noLegend     bool
	skipEmpty    bool

	rows    int
	cols    int
	workers int
	topN    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "trajplot",
		Short:         "plot gene expression smoothers along lineage pseudotime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/trajplot.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&datasetID, "dataset", "", "dataset id (default: first configured)")
	rootCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "output PNG path")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "render backend: gg or plot")

	curveCmd := &cobra.Command{
		Use:   "curve [gene]",
		Short: "plot per-lineage smoothers for one gene",
		Args:  cobra.ExactArgs(1),
		RunE:  runCurve,
	}
	curveCmd.Flags().StringVar(&strategyName, "strategy", "", "smoothing strategy: loess or spline")
	curveCmd.Flags().Float64Var(&span, "span", 0, "loess span")
	curveCmd.Flags().IntVar(&splineDF, "df", 0, "spline degrees of freedom")
	curveCmd.Flags().StringVar(&family, "family", "", "spline GLM family: gaussian or nb")
	curveCmd.Flags().BoolVar(&noRegression, "no-regression", false, "draw points only")
	curveCmd.Flags().BoolVar(&noNullModel, "no-null-model", false, "skip the pooled null model")
	curveCmd.Flags().BoolVar(&showBand, "band", false, "draw +/- 1 sd bands (loess only)")
	curveCmd.Flags().BoolVar(&showUnshared, "unshared", false, "highlight unshared cells")
	curveCmd.Flags().BoolVar(&noLegend, "no-legend", false, "hide the legend")
	curveCmd.Flags().BoolVar(&skipEmpty, "skip-empty", false, "warn instead of failing on empty lineages")

	panelCmd := &cobra.Command{
		Use:   "panel [genes...]",
		Short: "plot a grid of loess smoothers, one cell per gene",
		RunE:  runPanel,
	}
	panelCmd.Flags().IntVar(&rows, "rows", 0, "grid rows")
	panelCmd.Flags().IntVar(&cols, "cols", 0, "grid columns")
	panelCmd.Flags().IntVar(&workers, "workers", 0, "parallel gene fits")
	panelCmd.Flags().IntVar(&topN, "top", 0, "take the best ranked genes when none are given")
	panelCmd.Flags().Float64Var(&span, "span", 0, "loess span")
	panelCmd.Flags().BoolVar(&noNullModel, "no-null-model", false, "skip the pooled null model")
	panelCmd.Flags().BoolVar(&noLegend, "no-legend", false, "hide legends")

	genesCmd := &cobra.Command{
		Use:   "genes",
		Short: "list genes of the dataset",
		Args:  cobra.NoArgs,
		RunE:  listGenes,
	}

	rootCmd.AddCommand(curveCmd, panelCmd, genesCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// app holds the components shared by all commands.
type app struct {
	cfg     *config.Config
	dataset config.DatasetConfig
	ds      lineage.Dataset
	genes   func() ([]string, error)
	cache   *cache.Manager
	curves  *service.CurveService
	render  render.Renderer
	close   func()
}

func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if backend != "" {
		cfg.Render.Backend = backend
	}
	dsCfg, err := cfg.Data.Dataset(datasetID)
	if err != nil {
		return nil, err
	}

	cacheManager, err := cache.NewManager(cache.Config{
		ChunkCacheSizeMB: cfg.Cache.ChunkSizeMB,
		ChunkTTL:         time.Duration(cfg.Cache.ChunkTTLMinutes) * time.Minute,
		VectorCacheSize:  cfg.Cache.VectorEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	palette, err := colormap.ByName(cfg.Render.Palette, 8)
	if err != nil {
		cacheManager.Close()
		return nil, err
	}
	renderer, err := render.New(render.Config{
		Backend: cfg.Render.Backend,
		Width:   cfg.Render.Width,
		Height:  cfg.Render.Height,
	})
	if err != nil {
		cacheManager.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		dataset: dsCfg,
		cache:   cacheManager,
		render:  renderer,
		curves: service.NewCurveService(service.CurveServiceConfig{
			Palette:          palette,
			PointSize:        cfg.Render.PointSize,
			LineWidth:        cfg.Render.LineWidth,
			MaxScatterPoints: cfg.Render.MaxScatterPoints,
			SampleSeed:       cfg.Render.SampleSeed,
		}),
	}
	if err := a.openDataset(); err != nil {
		cacheManager.Close()
		return nil, err
	}
	return a, nil
}

// openDataset prefers a SOMA experiment with lineage columns and falls back to Zarr.
func (a *app) openDataset() error {
	ds := a.dataset
	if ds.SomaPath != "" && len(ds.PseudotimeColumns) > 0 {
		r, err := soma.NewReader(ds.SomaPath)
		if err == nil {
			var sds *soma.Dataset
			sds, err = soma.NewDataset(r, ds.PseudotimeColumns, ds.WeightColumns)
			if err == nil {
				log.Printf("[trajplot] Loaded SOMA experiment: %s (%d cells, %d lineages)",
					r.ExperimentURI(), len(sds.Cells()), sds.NumLineages())
				a.ds = sds
				a.genes = func() ([]string, error) {
					m, err := r.AllGenes()
					if err != nil {
						return nil, err
					}
					out := make([]string, 0, len(m))
					for g := range m {
						out = append(out, g)
					}
					sort.Slice(out, func(i, j int) bool { return m[out[i]] < m[out[j]] })
					return out, nil
				}
				a.close = func() {}
				return nil
			}
		}
		if ds.ZarrPath == "" {
			return fmt.Errorf("failed to open SOMA dataset: %w", err)
		}
		log.Printf("[trajplot] SOMA not used (%v), falling back to Zarr", err)
	}

	if ds.ZarrPath == "" {
		return fmt.Errorf("dataset has neither zarr_path nor usable soma_path")
	}
	r, err := zarr.NewReader(ds.ZarrPath, a.cache)
	if err != nil {
		return fmt.Errorf("failed to initialize Zarr reader: %w", err)
	}
	log.Printf("[trajplot] Loaded %q from: %s (%d cells, %d genes, %d lineages)",
		r.Metadata().DatasetName, ds.ZarrPath, len(r.Cells()), len(r.Genes()), r.NumLineages())
	a.ds = r
	a.genes = func() ([]string, error) { return r.Genes(), nil }
	a.close = r.Close
	return nil
}

func (a *app) Close() {
	a.close()
	a.cache.Close()
}

func (a *app) writePNG(data []byte, fallback string) error {
	path := outPath
	if path == "" {
		path = fallback
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Printf("[trajplot] Wrote %s (%d bytes)", path, len(data))
	return nil
}

func curveOptions(cmd *cobra.Command, fit config.FitConfig) (service.Options, error) {
	if cmd.Flags().Changed("strategy") {
		fit.Strategy = strategyName
	}
	if cmd.Flags().Changed("span") {
		fit.Span = span
	}
	if cmd.Flags().Changed("df") {
		fit.SplineDF = splineDF
	}
	if cmd.Flags().Changed("family") {
		fit.Family = family
	}
	strategy, err := smooth.Parse(fit.Strategy, fit.Span, fit.SplineDF, fit.Family)
	if err != nil {
		return service.Options{}, err
	}
	return service.Options{
		Strategy:          strategy,
		ComputeRegression: *fit.Regression && !noRegression,
		ComputeNullModel:  *fit.NullModel && !noNullModel,
		ShowBand:          fit.Band || showBand,
		ShowUnshared:      fit.Unshared || showUnshared,
		ShowLegend:        *fit.Legend && !noLegend,
		SkipEmptyLineages: fit.SkipEmptyLineages || skipEmpty,
		OwnGridLength:     fit.OwnGridLength,
	}, nil
}

func runCurve(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := curveOptions(cmd, a.cfg.Fit)
	if err != nil {
		return err
	}
	gene := args[0]
	res, err := a.curves.FitAndPlot(a.ds, gene, opts)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Printf("[trajplot] %s: warning: %v", gene, w)
	}
	png, err := a.render.RenderScene(res.Scene)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", gene, err)
	}
	return a.writePNG(png, gene+".png")
}

func runPanel(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	pc := a.cfg.Panel
	opts := service.PanelOptions{
		Rows:       pc.Rows,
		Cols:       pc.Cols,
		NullModel:  *pc.NullModel && !noNullModel,
		Span:       a.cfg.Fit.Span,
		Workers:    pc.Workers,
		ShowLegend: *a.cfg.Fit.Legend && !noLegend,
	}
	if cmd.Flags().Changed("rows") {
		opts.Rows = rows
	}
	if cmd.Flags().Changed("cols") {
		opts.Cols = cols
	}
	if cmd.Flags().Changed("workers") {
		opts.Workers = workers
	}
	if cmd.Flags().Changed("span") {
		opts.Span = span
	}
	n := pc.TopN
	if cmd.Flags().Changed("top") {
		n = topN
	}

	var rank service.RankingTable
	var table *ranking.Table
	if a.dataset.RankingPath != "" {
		table, err = ranking.Load(a.dataset.RankingPath)
		if err != nil {
			return err
		}
		rank = table
	}

	genes := args
	if len(genes) == 0 {
		if table == nil {
			return fmt.Errorf("no genes given and no ranking_path configured")
		}
		genes = table.Top(n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	panel, err := service.NewPanelService(a.curves).Build(ctx, a.ds, rank, genes, opts)
	if err != nil {
		return err
	}
	for _, f := range panel.Failures {
		log.Printf("[trajplot] panel cell left empty: %v", f)
	}
	png, err := a.render.RenderGrid(panel.Grid)
	if err != nil {
		return fmt.Errorf("failed to render panel: %w", err)
	}
	return a.writePNG(png, "panel.png")
}

func listGenes(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	genes, err := a.genes()
	if err != nil {
		return err
	}
	for _, g := range genes {
		fmt.Fprintln(cmd.OutOrStdout(), g)
	}
	return nil
}
