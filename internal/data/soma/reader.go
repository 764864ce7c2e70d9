// Package soma provides minimal, read-only access to a TileDB-SOMA experiment using TileDB arrays.
//
// Only what trajectory plots need is supported:
//   - per-lineage pseudotime and weight columns of obs
//   - map gene_id -> gene soma_joinid (from ms/RNA/var)
//   - read sparse X for (cells) x (one gene) (from ms/RNA/X/data)
package soma

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrUnsupported indicates this binary was built without SOMA/TileDB support.
	ErrUnsupported = errors.New("soma support is not enabled in this build (build with: go build -tags soma)")
)

// ResolveExperimentURI accepts either:
//   - /path/to/.../soma/experiment.soma
//   - /path/to/.../soma  (parent directory)
//
// and returns the experiment.soma path.
func ResolveExperimentURI(somaPath string) (string, error) {
	p := strings.TrimSpace(somaPath)
	if p == "" {
		return "", errors.New("empty soma_path")
	}
	p = os.ExpandEnv(p)
	p = filepath.Clean(p)

	// If user points directly to experiment.soma
	if strings.HasSuffix(p, ".soma") {
		return p, nil
	}
	// If user points to parent "soma/" dir
	return filepath.Join(p, "experiment.soma"), nil
}

// coalesceRanges sorts ids and merges consecutive values into inclusive
// [lo, hi] ranges, so a subarray needs one range per run instead of per cell.
func coalesceRanges(ids []int64) [][2]int64 {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := [][2]int64{{sorted[0], sorted[0]}}
	for _, id := range sorted[1:] {
		last := &out[len(out)-1]
		switch {
		case id <= last[1]:
		case id == last[1]+1:
			last[1] = id
		default:
			out = append(out, [2]int64{id, id})
		}
	}
	return out
}
