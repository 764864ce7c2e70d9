package soma

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/soma-tiles/trajplot/internal/lineage"
)

// source is the subset of Reader a Dataset reads through.
type source interface {
	ObsColumns() ([]string, error)
	ObsJoinIDs() ([]int64, error)
	ObsFloatColumn(column string) (map[int64]float64, error)
	ExpressionByCellJoinID(gene string, cellJoinIDs []int64) (int64, map[int64]float32, error)
}

// Dataset adapts a SOMA experiment to lineage.Dataset. Cells are obs
// soma_joinids rendered in decimal; lineage l reads pseudotimeColumns[l] and
// weightColumns[l] from obs. Column reads are cached by the Reader.
type Dataset struct {
	src       source
	ptColumns []string
	wColumns  []string
	joinIDs   []int64
	cells     []string
}

// NewDataset loads the obs index of r and validates the lineage columns.
func NewDataset(r *Reader, pseudotimeColumns, weightColumns []string) (*Dataset, error) {
	return newDataset(r, pseudotimeColumns, weightColumns)
}

func newDataset(src source, pseudotimeColumns, weightColumns []string) (*Dataset, error) {
	if len(pseudotimeColumns) == 0 {
		return nil, fmt.Errorf("no pseudotime columns configured")
	}
	if len(pseudotimeColumns) != len(weightColumns) {
		return nil, fmt.Errorf("got %d pseudotime columns but %d weight columns",
			len(pseudotimeColumns), len(weightColumns))
	}
	columns, err := src.ObsColumns()
	if err != nil {
		return nil, fmt.Errorf("failed to read obs schema: %w", err)
	}
	for _, name := range slices.Concat(pseudotimeColumns, weightColumns) {
		if !slices.Contains(columns, name) {
			return nil, fmt.Errorf("obs column %q not found (available: %s)", name, strings.Join(columns, ", "))
		}
	}
	ids, err := src.ObsJoinIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to read obs joinids: %w", err)
	}
	ds := &Dataset{
		src:       src,
		ptColumns: append([]string(nil), pseudotimeColumns...),
		wColumns:  append([]string(nil), weightColumns...),
		joinIDs:   ids,
		cells:     make([]string, len(ids)),
	}
	for i, id := range ids {
		ds.cells[i] = strconv.FormatInt(id, 10)
	}
	return ds, nil
}

func (d *Dataset) Cells() []string { return d.cells }

func (d *Dataset) NumLineages() int { return len(d.ptColumns) }

// Counts returns the non-zero expression of gene only; absent cells count zero.
func (d *Dataset) Counts(gene string) (lineage.Vector, error) {
	_, values, err := d.src.ExpressionByCellJoinID(gene, d.joinIDs)
	if err != nil {
		return lineage.Vector{}, fmt.Errorf("failed to read expression for %s: %w", gene, err)
	}
	out := lineage.Vector{
		Cells:  make([]string, 0, len(values)),
		Values: make([]float64, 0, len(values)),
	}
	for i, id := range d.joinIDs {
		v, ok := values[id]
		if !ok {
			continue
		}
		out.Cells = append(out.Cells, d.cells[i])
		out.Values = append(out.Values, float64(v))
	}
	return out, nil
}

// Pseudotime returns lineage l's pseudotime; null entries read as NaN.
func (d *Dataset) Pseudotime(l int) (lineage.Vector, error) {
	if l < 0 || l >= len(d.ptColumns) {
		return lineage.Vector{}, fmt.Errorf("%w: %d (dataset has %d)", lineage.ErrLineageOutOfRange, l, len(d.ptColumns))
	}
	return d.column(d.ptColumns[l], math.NaN())
}

// Weights returns lineage l's weights; null entries read as 0.
func (d *Dataset) Weights(l int) (lineage.Vector, error) {
	if l < 0 || l >= len(d.wColumns) {
		return lineage.Vector{}, fmt.Errorf("%w: %d (dataset has %d)", lineage.ErrLineageOutOfRange, l, len(d.wColumns))
	}
	return d.column(d.wColumns[l], 0)
}

func (d *Dataset) column(name string, missing float64) (lineage.Vector, error) {
	values, err := d.src.ObsFloatColumn(name)
	if err != nil {
		return lineage.Vector{}, fmt.Errorf("failed to read obs column %s: %w", name, err)
	}
	out := make([]float64, len(d.joinIDs))
	for i, id := range d.joinIDs {
		v, ok := values[id]
		if !ok {
			v = missing
		}
		out[i] = v
	}
	return lineage.Vector{Cells: d.cells, Values: out}, nil
}
