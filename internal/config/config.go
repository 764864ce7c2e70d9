// Package config handles configuration loading for trajplot.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the trajplot configuration.
type Config struct {
	Data   DataConfig   `yaml:"data"`
	Fit    FitConfig    `yaml:"fit"`
	Panel  PanelConfig  `yaml:"panel"`
	Render RenderConfig `yaml:"render"`
	Cache  CacheConfig  `yaml:"cache"`
}

// DataConfig contains the configured datasets.
//
// Two YAML layouts are accepted: a legacy single dataset with zarr_path and
// soma_path directly under data, or a mapping of dataset id to DatasetConfig.
// In the second form the first id in file order is the default.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig
	order          []string
}

// DatasetConfig describes one dataset on disk.
type DatasetConfig struct {
	ZarrPath string `yaml:"zarr_path"`
	SomaPath string `yaml:"soma_path"`
	// RankingPath is an optional YAML ranking table used by panels.
	RankingPath string `yaml:"ranking_path"`
	// PseudotimeColumns and WeightColumns name the per-lineage obs columns of
	// a SOMA experiment, in lineage order.
	PseudotimeColumns []string `yaml:"pseudotime_columns"`
	WeightColumns     []string `yaml:"weight_columns"`
}

// FitConfig contains the single-gene fit defaults.
type FitConfig struct {
	Strategy          string  `yaml:"strategy"`
	Span              float64 `yaml:"span"`
	SplineDF          int     `yaml:"spline_df"`
	Family            string  `yaml:"family"`
	Regression        *bool   `yaml:"regression"`
	NullModel         *bool   `yaml:"null_model"`
	Band              bool    `yaml:"band"`
	Unshared          bool    `yaml:"unshared"`
	Legend            *bool   `yaml:"legend"`
	SkipEmptyLineages bool    `yaml:"skip_empty_lineages"`
	OwnGridLength     bool    `yaml:"own_grid_length"`
}

// PanelConfig contains multi-gene panel settings.
type PanelConfig struct {
	Rows      int   `yaml:"rows"`
	Cols      int   `yaml:"cols"`
	Workers   int   `yaml:"workers"`
	NullModel *bool `yaml:"null_model"`
	// TopN selects the best ranked genes when none are given.
	TopN int `yaml:"top_n"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Backend          string  `yaml:"backend"`
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	Palette          string  `yaml:"palette"`
	PointSize        float64 `yaml:"point_size"`
	LineWidth        float64 `yaml:"line_width"`
	MaxScatterPoints int     `yaml:"max_scatter_points"`
	SampleSeed       int64   `yaml:"sample_seed"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ChunkSizeMB     int `yaml:"chunk_size_mb"`
	ChunkTTLMinutes int `yaml:"chunk_ttl_minutes"`
	VectorEntries   int `yaml:"vector_entries"`
}

// DatasetIDs returns dataset ids in file order.
func (d DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

// Dataset returns the dataset with the given id, or the default for "".
func (d DataConfig) Dataset(id string) (DatasetConfig, error) {
	if id == "" {
		id = d.DefaultDataset
	}
	ds, ok := d.Datasets[id]
	if !ok {
		return DatasetConfig{}, fmt.Errorf("unknown dataset %q", id)
	}
	return ds, nil
}

// UnmarshalYAML accepts both the legacy and the multi-dataset layout.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected mapping, got %v", node.Tag)
	}

	legacy := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i+1].Kind == yaml.ScalarNode {
			legacy = true
			break
		}
	}
	d.Datasets = map[string]DatasetConfig{}
	d.order = nil

	if legacy {
		var ds DatasetConfig
		if err := node.Decode(&ds); err != nil {
			return err
		}
		d.add("default", ds)
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", id, err)
		}
		d.add(id, ds)
	}
	return nil
}

func (d *DataConfig) add(id string, ds DatasetConfig) {
	if _, ok := d.Datasets[id]; !ok {
		d.order = append(d.order, id)
	}
	d.Datasets[id] = ds
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	yes := true
	return &Config{
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": {ZarrPath: "./data/trajectory.zarr"},
			},
			order: []string{"default"},
		},
		Fit: FitConfig{
			Strategy:   "loess",
			Span:       0.5,
			SplineDF:   3,
			Family:     "gaussian",
			Regression: &yes,
			NullModel:  &yes,
			Legend:     &yes,
		},
		Panel: PanelConfig{
			Workers:   1,
			NullModel: &yes,
			TopN:      9,
		},
		Render: RenderConfig{
			Backend:   "gg",
			Width:     480,
			Height:    360,
			Palette:   "categorical",
			PointSize: 1.5,
			LineWidth: 1.5,
		},
		Cache: CacheConfig{
			ChunkSizeMB:     256,
			ChunkTTLMinutes: 10,
			VectorEntries:   1024,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}

	if cfg.Fit.Strategy == "" {
		cfg.Fit.Strategy = defaults.Fit.Strategy
	}
	if cfg.Fit.Span == 0 {
		cfg.Fit.Span = defaults.Fit.Span
	}
	if cfg.Fit.SplineDF == 0 {
		cfg.Fit.SplineDF = defaults.Fit.SplineDF
	}
	if cfg.Fit.Family == "" {
		cfg.Fit.Family = defaults.Fit.Family
	}
	if cfg.Fit.Regression == nil {
		cfg.Fit.Regression = defaults.Fit.Regression
	}
	if cfg.Fit.NullModel == nil {
		cfg.Fit.NullModel = defaults.Fit.NullModel
	}
	if cfg.Fit.Legend == nil {
		cfg.Fit.Legend = defaults.Fit.Legend
	}

	if cfg.Panel.Workers == 0 {
		cfg.Panel.Workers = defaults.Panel.Workers
	}
	if cfg.Panel.NullModel == nil {
		cfg.Panel.NullModel = defaults.Panel.NullModel
	}
	if cfg.Panel.TopN == 0 {
		cfg.Panel.TopN = defaults.Panel.TopN
	}

	if cfg.Render.Backend == "" {
		cfg.Render.Backend = defaults.Render.Backend
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.Palette == "" {
		cfg.Render.Palette = defaults.Render.Palette
	}
	if cfg.Render.PointSize == 0 {
		cfg.Render.PointSize = defaults.Render.PointSize
	}
	if cfg.Render.LineWidth == 0 {
		cfg.Render.LineWidth = defaults.Render.LineWidth
	}

	if cfg.Cache.ChunkSizeMB == 0 {
		cfg.Cache.ChunkSizeMB = defaults.Cache.ChunkSizeMB
	}
	if cfg.Cache.ChunkTTLMinutes == 0 {
		cfg.Cache.ChunkTTLMinutes = defaults.Cache.ChunkTTLMinutes
	}
	if cfg.Cache.VectorEntries == 0 {
		cfg.Cache.VectorEntries = defaults.Cache.VectorEntries
	}
}
