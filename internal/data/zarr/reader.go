// Package zarr reads trajectory datasets stored as Zarr v3 arrays.
//
// A store holds metadata.json next to three arrays: pseudotime and weights
// shaped [cells, lineages], and counts shaped [genes, cells] (or
// [cells, genes] with counts_layout "cells_by_genes").
package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/soma-tiles/trajplot/internal/cache"
	"github.com/soma-tiles/trajplot/internal/lineage"
)

// Array names inside a store.
const (
	ArrayPseudotime = "pseudotime"
	ArrayWeights    = "weights"
	ArrayCounts     = "counts"
)

// Counts layouts.
const (
	LayoutGenesByCells = "genes_by_cells"
	LayoutCellsByGenes = "cells_by_genes"
)

// Reader provides access to a trajectory store. It implements lineage.Dataset
// and is safe for concurrent use.
type Reader struct {
	basePath string
	storeID  string
	metadata *Metadata
	decoder  *zstd.Decoder
	cache    *cache.Manager

	arrays    map[string]*ArrayMeta
	cellsView []string
}

// Metadata contains metadata about the store.
type Metadata struct {
	FormatVersion string         `json:"format_version"`
	DatasetName   string         `json:"dataset_name"`
	NCells        int            `json:"n_cells"`
	NGenes        int            `json:"n_genes"`
	NLineages     int            `json:"n_lineages"`
	Cells         []string       `json:"cells"`
	Genes         []string       `json:"genes"`
	GeneIndex     map[string]int `json:"gene_index"`
	Lineages      []string       `json:"lineages,omitempty"`
	CountsLayout  string         `json:"counts_layout,omitempty"`
}

// ArrayMeta represents Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	Shape     []int  `json:"shape"`
	DataType  string `json:"data_type"`
	ChunkGrid struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue  interface{} `json:"fill_value"`
	Codecs     []Codec     `json:"codecs"`
	ZarrFormat int         `json:"zarr_format"`
	NodeType   string      `json:"node_type"`
}

// Codec is one entry of a Zarr v3 codec pipeline.
type Codec struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// NewReader opens the store at basePath. mgr may be nil to disable caching.
func NewReader(basePath string, mgr *cache.Manager) (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	r := &Reader{
		basePath: basePath,
		storeID:  cache.StoreID(basePath),
		decoder:  decoder,
		cache:    mgr,
		arrays:   make(map[string]*ArrayMeta),
	}

	if err := r.loadMetadata(); err != nil {
		decoder.Close()
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	for _, name := range []string{ArrayPseudotime, ArrayWeights, ArrayCounts} {
		meta, err := r.loadArrayMeta(filepath.Join(basePath, name))
		if err != nil {
			decoder.Close()
			return nil, fmt.Errorf("failed to load %s metadata: %w", name, err)
		}
		if err := validateArrayMeta(meta); err != nil {
			decoder.Close()
			return nil, fmt.Errorf("invalid %s array: %w", name, err)
		}
		r.arrays[name] = meta
	}
	if err := r.checkShapes(); err != nil {
		decoder.Close()
		return nil, err
	}

	return r, nil
}

// Metadata returns the store metadata.
func (r *Reader) Metadata() *Metadata {
	return r.metadata
}

func (r *Reader) loadMetadata() error {
	metadataPath := filepath.Join(r.basePath, "metadata.json")
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to read metadata.json: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata.json: %w", err)
	}

	// Build gene index from gene list if not present
	if metadata.GeneIndex == nil {
		metadata.GeneIndex = make(map[string]int, len(metadata.Genes))
		for i, gene := range metadata.Genes {
			metadata.GeneIndex[gene] = i
		}
	}

	// Load gene index file if exists
	geneIndexPath := filepath.Join(r.basePath, "gene_index.json")
	if data, err := os.ReadFile(geneIndexPath); err == nil {
		if err := json.Unmarshal(data, &metadata.GeneIndex); err != nil {
			return fmt.Errorf("failed to parse gene_index.json: %w", err)
		}
	}

	if metadata.NCells == 0 {
		metadata.NCells = len(metadata.Cells)
	}
	if metadata.NGenes == 0 {
		metadata.NGenes = len(metadata.Genes)
	}
	if metadata.CountsLayout == "" {
		metadata.CountsLayout = LayoutGenesByCells
	}
	if len(metadata.Cells) != metadata.NCells {
		return fmt.Errorf("metadata lists %d cells, n_cells is %d", len(metadata.Cells), metadata.NCells)
	}

	r.metadata = &metadata
	r.cellsView = metadata.Cells
	return nil
}

// loadArrayMeta loads Zarr v3 array metadata.
func (r *Reader) loadArrayMeta(arrayPath string) (*ArrayMeta, error) {
	data, err := os.ReadFile(filepath.Join(arrayPath, "zarr.json"))
	if err != nil {
		return nil, err
	}

	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func validateArrayMeta(meta *ArrayMeta) error {
	chunk := meta.ChunkGrid.Configuration.ChunkShape
	if len(meta.Shape) != 2 || len(chunk) != 2 {
		return fmt.Errorf("expected 2-d array with 2-d chunks, got shape %v chunks %v", meta.Shape, chunk)
	}
	for d, c := range chunk {
		if c <= 0 {
			return fmt.Errorf("invalid chunk shape at dim %d: %d", d, c)
		}
	}
	if _, err := dtypeSize(meta.DataType); err != nil {
		return err
	}
	for _, c := range meta.Codecs {
		switch c.Name {
		case "bytes":
			if e, ok := c.Configuration["endian"].(string); ok && e != "little" {
				return fmt.Errorf("unsupported endian %q", e)
			}
		case "zstd":
		default:
			return fmt.Errorf("unsupported codec %q", c.Name)
		}
	}
	return nil
}

func (r *Reader) checkShapes() error {
	md := r.metadata
	for _, name := range []string{ArrayPseudotime, ArrayWeights} {
		shape := r.arrays[name].Shape
		if shape[0] != md.NCells {
			return fmt.Errorf("%s has %d rows, expected %d cells", name, shape[0], md.NCells)
		}
		if md.NLineages == 0 {
			md.NLineages = shape[1]
		}
		if shape[1] != md.NLineages {
			return fmt.Errorf("%s has %d columns, expected %d lineages", name, shape[1], md.NLineages)
		}
	}

	want := []int{md.NGenes, md.NCells}
	if md.CountsLayout == LayoutCellsByGenes {
		want = []int{md.NCells, md.NGenes}
	} else if md.CountsLayout != LayoutGenesByCells {
		return fmt.Errorf("unknown counts_layout %q", md.CountsLayout)
	}
	if got := r.arrays[ArrayCounts].Shape; got[0] != want[0] || got[1] != want[1] {
		return fmt.Errorf("counts shape %v, expected %v for layout %s", got, want, md.CountsLayout)
	}
	return nil
}

// Cells returns the cell ids in store order.
func (r *Reader) Cells() []string { return r.cellsView }

// NumLineages returns the number of lineages.
func (r *Reader) NumLineages() int { return r.metadata.NLineages }

// Genes returns the gene names in store order.
func (r *Reader) Genes() []string { return r.metadata.Genes }

// Counts returns the raw counts of gene for every cell.
func (r *Reader) Counts(gene string) (lineage.Vector, error) {
	idx, ok := r.metadata.GeneIndex[gene]
	if !ok {
		return lineage.Vector{}, fmt.Errorf("%w: %s", lineage.ErrUnknownGene, gene)
	}
	axis := 0
	if r.metadata.CountsLayout == LayoutCellsByGenes {
		axis = 1
	}
	values, err := r.line(ArrayCounts, "counts", gene, axis, idx)
	if err != nil {
		return lineage.Vector{}, fmt.Errorf("failed to read counts for %s: %w", gene, err)
	}
	return lineage.Vector{Cells: r.cellsView, Values: values}, nil
}

// Pseudotime returns the pseudotime of every cell on lineage l; NaN marks
// cells that are not on the lineage.
func (r *Reader) Pseudotime(l int) (lineage.Vector, error) {
	return r.lineageColumn(ArrayPseudotime, l)
}

// Weights returns the lineage-membership weight of every cell on lineage l.
func (r *Reader) Weights(l int) (lineage.Vector, error) {
	return r.lineageColumn(ArrayWeights, l)
}

func (r *Reader) lineageColumn(array string, l int) (lineage.Vector, error) {
	if l < 0 || l >= r.metadata.NLineages {
		return lineage.Vector{}, fmt.Errorf("%w: %d (store has %d)", lineage.ErrLineageOutOfRange, l, r.metadata.NLineages)
	}
	values, err := r.line(array, array, strconv.Itoa(l), 1, l)
	if err != nil {
		return lineage.Vector{}, fmt.Errorf("failed to read %s for lineage %d: %w", array, l, err)
	}
	return lineage.Vector{Cells: r.cellsView, Values: values}, nil
}

// line returns a copy of row (axis 0) or column (axis 1) index of a 2-d array,
// going through the vector cache.
func (r *Reader) line(array, kind, name string, axis, index int) ([]float64, error) {
	key := cache.VectorKey(r.storeID, kind, name)
	if r.cache != nil {
		if v, ok := r.cache.GetVector(key); ok {
			return append([]float64(nil), v...), nil
		}
	}

	v, err := r.readLine(array, axis, index)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetVector(key, v)
	}
	return append([]float64(nil), v...), nil
}

// readLine walks the chunks crossing one row or column.
func (r *Reader) readLine(array string, axis, index int) ([]float64, error) {
	meta := r.arrays[array]
	arrayPath := filepath.Join(r.basePath, array)
	other := 1 - axis
	chunk := meta.ChunkGrid.Configuration.ChunkShape
	if index < 0 || index >= meta.Shape[axis] {
		return nil, fmt.Errorf("index %d out of range for axis %d of %v", index, axis, meta.Shape)
	}

	n := meta.Shape[other]
	out := make([]float64, n)
	fixedChunk := index / chunk[axis]
	offset := index % chunk[axis]

	nChunks := ceilDiv(n, chunk[other])
	for c := 0; c < nChunks; c++ {
		coords := make([]int, 2)
		coords[axis] = fixedChunk
		coords[other] = c
		start := c * chunk[other]
		length := min(chunk[other], n-start)

		values, cols, err := r.chunkValues(arrayPath, array, meta, coords)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s chunk %v: %w", array, coords, err)
		}
		if values == nil {
			fill := fillValue(meta)
			for i := 0; i < length; i++ {
				out[start+i] = fill
			}
			continue
		}
		for i := 0; i < length; i++ {
			var pos int
			if axis == 0 {
				pos = offset*cols + i
			} else {
				pos = i*cols + offset
			}
			if pos >= len(values) {
				return nil, fmt.Errorf("%s chunk %v too short: %d values", array, coords, len(values))
			}
			out[start+i] = values[pos]
		}
	}
	return out, nil
}

// chunkValues decodes one chunk. It returns nil values for a chunk that is
// absent on disk (all fill value) and the row stride of the decoded data.
// Edge chunks are accepted both padded to the full chunk shape and truncated
// to the array bounds.
func (r *Reader) chunkValues(arrayPath, array string, meta *ArrayMeta, coords []int) ([]float64, int, error) {
	raw, err := r.readChunkAt(arrayPath, array, meta, coords)
	if err != nil {
		return nil, 0, err
	}
	if raw == nil {
		return nil, 0, nil
	}

	size, _ := dtypeSize(meta.DataType)
	chunk := meta.ChunkGrid.Configuration.ChunkShape
	actual := chunkShapeAt(meta, coords)

	cols := chunk[1]
	switch {
	case len(raw) >= chunk[0]*chunk[1]*size:
	case len(raw) >= actual[0]*actual[1]*size:
		cols = actual[1]
	default:
		return nil, 0, fmt.Errorf("chunk too short: got %d bytes, expected %d", len(raw), actual[0]*actual[1]*size)
	}

	values, err := decodeValues(raw, meta.DataType)
	if err != nil {
		return nil, 0, err
	}
	return values, cols, nil
}

// readChunkAt returns the decoded bytes of a chunk, or nil when it is absent.
func (r *Reader) readChunkAt(arrayPath, array string, meta *ArrayMeta, coords []int) ([]byte, error) {
	key := cache.ChunkKey(r.storeID, array, coords)
	if r.cache != nil {
		if data, ok := r.cache.GetChunk(key); ok {
			return data, nil
		}
	}

	data, err := r.readChunk(arrayPath, meta, encodeChunkKey(meta, coords))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		// Chunks larger than a cache shard are simply not cached.
		_ = r.cache.SetChunk(key, data)
	}
	return data, nil
}

// readChunk reads a chunk file and runs the codec pipeline in reverse.
func (r *Reader) readChunk(arrayPath string, meta *ArrayMeta, chunkKey string) ([]byte, error) {
	// Zarr v3 stores chunks in c/ directory
	data, err := os.ReadFile(filepath.Join(arrayPath, "c", chunkKey))
	if err != nil {
		return nil, err
	}

	for i := len(meta.Codecs) - 1; i >= 0; i-- {
		if meta.Codecs[i].Name != "zstd" {
			continue
		}
		data, err = r.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress failed: %w", err)
		}
	}
	return data, nil
}

func encodeChunkKey(meta *ArrayMeta, coords []int) string {
	sep := meta.ChunkKeyEncoding.Configuration.Separator
	if sep == "" {
		sep = "/"
	}
	parts := make([]string, len(coords))
	for i, idx := range coords {
		parts[i] = strconv.Itoa(idx)
	}
	return filepath.FromSlash(strings.Join(parts, sep))
}

func chunkShapeAt(meta *ArrayMeta, coords []int) []int {
	chunk := meta.ChunkGrid.Configuration.ChunkShape
	actual := make([]int, len(meta.Shape))
	for d := range meta.Shape {
		start := coords[d] * chunk[d]
		actual[d] = min(chunk[d], meta.Shape[d]-start)
	}
	return actual
}

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "float32", "int32", "uint32":
		return 4, nil
	case "float64", "int64", "uint64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

func decodeValues(raw []byte, dataType string) ([]float64, error) {
	size, err := dtypeSize(dataType)
	if err != nil {
		return nil, err
	}
	n := len(raw) / size
	out := make([]float64, n)
	le := binary.LittleEndian
	for i := 0; i < n; i++ {
		b := raw[i*size:]
		switch dataType {
		case "float32":
			out[i] = float64(math.Float32frombits(le.Uint32(b)))
		case "float64":
			out[i] = math.Float64frombits(le.Uint64(b))
		case "int32":
			out[i] = float64(int32(le.Uint32(b)))
		case "uint32":
			out[i] = float64(le.Uint32(b))
		case "int64":
			out[i] = float64(int64(le.Uint64(b)))
		case "uint64":
			out[i] = float64(le.Uint64(b))
		}
	}
	return out, nil
}

// fillValue interprets the array fill value. Zarr v3 writes non-finite
// floats as the strings "NaN", "Infinity" and "-Infinity".
func fillValue(meta *ArrayMeta) float64 {
	switch v := meta.FillValue.(type) {
	case float64:
		return v
	case string:
		switch v {
		case "NaN":
			return math.NaN()
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// Close releases the decoder.
func (r *Reader) Close() {
	r.decoder.Close()
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
