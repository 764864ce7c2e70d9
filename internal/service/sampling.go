package service

import (
	"hash/fnv"
	"sort"
	"strconv"
)

// cellHash mixes a seed and a cell id into a stable 64-bit key.
func cellHash(seed int64, cell string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatInt(seed, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(cell))
	return h.Sum64()
}

// deterministicSample picks k of cells by smallest hash and returns their
// indexes in ascending order. The same cells, k and seed always give the same
// sample, independent of input order.
func deterministicSample(cells []string, k int, seed int64) []int {
	if k <= 0 {
		return []int{}
	}
	idx := make([]int, len(cells))
	for i := range idx {
		idx[i] = i
	}
	if k >= len(cells) {
		return idx
	}

	keys := make([]uint64, len(cells))
	for i, c := range cells {
		keys[i] = cellHash(seed, c)
	}
	sort.Slice(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if ka != kb {
			return ka < kb
		}
		return cells[idx[a]] < cells[idx[b]]
	})
	out := idx[:k]
	sort.Ints(out)
	return out
}
