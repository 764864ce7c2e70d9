// Package lineage extracts per-lineage cell subsets from a trajectory dataset.
//
// A dataset holds, for every cell, a pseudotime and a membership weight per lineage
// and a raw count per gene. The package only reads through the Dataset interface;
// callers own the storage.
package lineage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownGene is returned when a gene has no row in the counts table.
	ErrUnknownGene = errors.New("unknown gene")
	// ErrEmptyLineage is returned when no cell has a nonzero weight on a lineage.
	ErrEmptyLineage = errors.New("lineage has no weighted cells")
	// ErrUndefinedPseudotime is returned when a weighted cell has no pseudotime.
	ErrUndefinedPseudotime = errors.New("weighted cell has undefined pseudotime")
	// ErrLineageOutOfRange is returned for a lineage index the dataset does not have.
	ErrLineageOutOfRange = errors.New("lineage index out of range")
	// ErrDegenerateThreshold marks a weight vector without interior (0,1) values.
	ErrDegenerateThreshold = errors.New("no interior weights for unshared threshold")
)

// Vector is a per-cell column keyed by cell id.
type Vector struct {
	Cells  []string
	Values []float64
}

// Len returns the number of entries.
func (v Vector) Len() int { return len(v.Cells) }

// Index maps cell id -> value.
func (v Vector) Index() map[string]float64 {
	m := make(map[string]float64, len(v.Cells))
	for i, c := range v.Cells {
		if i < len(v.Values) {
			m[c] = v.Values[i]
		}
	}
	return m
}

// Dataset is the read-only view of a trajectory dataset.
//
// Pseudotime values may be NaN for cells that are not on a lineage. Counts may be
// sparse: a cell missing from the returned vector has a count of zero.
// Implementations must allow concurrent reads.
type Dataset interface {
	Cells() []string
	NumLineages() int
	Counts(gene string) (Vector, error)
	Pseudotime(lineage int) (Vector, error)
	Weights(lineage int) (Vector, error)
}

// Label returns the display label of a zero-based lineage index.
func Label(lineage int) string {
	return fmt.Sprintf("lineage%d", lineage+1)
}

func checkLineage(ds Dataset, lineage int) error {
	if lineage < 0 || lineage >= ds.NumLineages() {
		return fmt.Errorf("%w: %d (dataset has %d)", ErrLineageOutOfRange, lineage, ds.NumLineages())
	}
	return nil
}
