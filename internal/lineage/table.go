package lineage

import (
	"fmt"
	"math"
)

// Table is an in-memory Dataset.
type Table struct {
	cells      []string
	pseudotime [][]float64 // [lineage][cell]
	weights    [][]float64 // [lineage][cell]
	counts     map[string][]float64
}

// NewTable builds a dataset from dense columns. pseudotime and weights are indexed
// [lineage][cell]; every counts row must have one value per cell.
func NewTable(cells []string, pseudotime, weights [][]float64, counts map[string][]float64) (*Table, error) {
	if len(pseudotime) != len(weights) {
		return nil, fmt.Errorf("pseudotime has %d lineages, weights has %d", len(pseudotime), len(weights))
	}
	for l := range pseudotime {
		if len(pseudotime[l]) != len(cells) {
			return nil, fmt.Errorf("pseudotime lineage %d: got %d values, expected %d", l, len(pseudotime[l]), len(cells))
		}
		if len(weights[l]) != len(cells) {
			return nil, fmt.Errorf("weights lineage %d: got %d values, expected %d", l, len(weights[l]), len(cells))
		}
		for i, w := range weights[l] {
			if math.IsNaN(w) || w < 0 || w > 1 {
				return nil, fmt.Errorf("weights lineage %d cell %s: %v outside [0,1]", l, cells[i], w)
			}
		}
	}
	for g, row := range counts {
		if len(row) != len(cells) {
			return nil, fmt.Errorf("counts %s: got %d values, expected %d", g, len(row), len(cells))
		}
	}
	return &Table{cells: cells, pseudotime: pseudotime, weights: weights, counts: counts}, nil
}

func (t *Table) Cells() []string { return t.cells }

func (t *Table) NumLineages() int { return len(t.weights) }

func (t *Table) Counts(gene string) (Vector, error) {
	row, ok := t.counts[gene]
	if !ok {
		return Vector{}, fmt.Errorf("%w: %s", ErrUnknownGene, gene)
	}
	return Vector{Cells: t.cells, Values: row}, nil
}

func (t *Table) Pseudotime(lineage int) (Vector, error) {
	if err := checkLineage(t, lineage); err != nil {
		return Vector{}, err
	}
	return Vector{Cells: t.cells, Values: t.pseudotime[lineage]}, nil
}

func (t *Table) Weights(lineage int) (Vector, error) {
	if err := checkLineage(t, lineage); err != nil {
		return Vector{}, err
	}
	return Vector{Cells: t.cells, Values: t.weights[lineage]}, nil
}
