package lineage

import (
	"fmt"
	"math"
)

// Response selects how raw counts are turned into the modelled expression value.
type Response int

const (
	// Log1p is log(1+count), the continuous response used by loess and the gaussian spline.
	Log1p Response = iota
	// RawCounts is the count rounded to a non-negative integer, used by count families.
	RawCounts
)

func (r Response) String() string {
	switch r {
	case Log1p:
		return "log1p"
	case RawCounts:
		return "counts"
	default:
		return fmt.Sprintf("Response(%d)", int(r))
	}
}

// Transform maps one raw count to the response scale.
func (r Response) Transform(count float64) float64 {
	if r == RawCounts {
		if count < 0 || math.IsNaN(count) {
			return 0
		}
		return math.Round(count)
	}
	return math.Log1p(count)
}

// Subset holds aligned per-cell observations of one gene on one lineage.
// All slices have the same length.
type Subset struct {
	Lineage    int
	Cells      []string
	Pseudotime []float64
	Expression []float64
	Weights    []float64
}

// Len returns the number of cells in the subset.
func (s *Subset) Len() int { return len(s.Cells) }

// MaxPseudotime returns the largest pseudotime in the subset, or 0 when empty.
func (s *Subset) MaxPseudotime() float64 {
	m := 0.0
	for i, t := range s.Pseudotime {
		if i == 0 || t > m {
			m = t
		}
	}
	return m
}

// Extract returns the cells with a nonzero weight on lineage, joined by cell id
// against pseudotime and the transformed counts of gene. Cell order follows the
// weight vector.
func Extract(ds Dataset, gene string, lineage int, resp Response) (*Subset, error) {
	sub, err := collect(ds, gene, lineage, resp, true)
	if err != nil {
		return nil, err
	}
	if sub.Len() == 0 {
		return nil, fmt.Errorf("%w: %s (gene %s)", ErrEmptyLineage, Label(lineage), gene)
	}
	return sub, nil
}

// ExtractAll is Extract without the nonzero-weight filter: every cell with a
// defined pseudotime is kept, zero weights included. It may be empty.
func ExtractAll(ds Dataset, gene string, lineage int, resp Response) (*Subset, error) {
	return collect(ds, gene, lineage, resp, false)
}

func collect(ds Dataset, gene string, lineage int, resp Response, weightedOnly bool) (*Subset, error) {
	if err := checkLineage(ds, lineage); err != nil {
		return nil, err
	}
	counts, err := ds.Counts(gene)
	if err != nil {
		return nil, err
	}
	pt, err := ds.Pseudotime(lineage)
	if err != nil {
		return nil, fmt.Errorf("failed to read pseudotime for %s: %w", Label(lineage), err)
	}
	w, err := ds.Weights(lineage)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights for %s: %w", Label(lineage), err)
	}

	ptByCell := pt.Index()
	countByCell := counts.Index()

	sub := &Subset{Lineage: lineage}
	for i, cell := range w.Cells {
		if i >= len(w.Values) {
			break
		}
		wt := w.Values[i]
		if weightedOnly && wt == 0 {
			continue
		}
		t, ok := ptByCell[cell]
		if !ok || math.IsNaN(t) {
			if weightedOnly {
				return nil, fmt.Errorf("%w: cell %s on %s", ErrUndefinedPseudotime, cell, Label(lineage))
			}
			continue
		}
		sub.Cells = append(sub.Cells, cell)
		sub.Pseudotime = append(sub.Pseudotime, t)
		sub.Expression = append(sub.Expression, resp.Transform(countByCell[cell]))
		sub.Weights = append(sub.Weights, wt)
	}
	return sub, nil
}

// Pool concatenates subsets row-wise without deduplicating cells. The pooled
// subset carries Lineage -1.
func Pool(subsets ...*Subset) *Subset {
	n := 0
	for _, s := range subsets {
		n += s.Len()
	}
	out := &Subset{
		Lineage:    -1,
		Cells:      make([]string, 0, n),
		Pseudotime: make([]float64, 0, n),
		Expression: make([]float64, 0, n),
		Weights:    make([]float64, 0, n),
	}
	for _, s := range subsets {
		out.Cells = append(out.Cells, s.Cells...)
		out.Pseudotime = append(out.Pseudotime, s.Pseudotime...)
		out.Expression = append(out.Expression, s.Expression...)
		out.Weights = append(out.Weights, s.Weights...)
	}
	return out
}
