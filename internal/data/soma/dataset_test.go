package soma

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soma-tiles/trajplot/internal/lineage"
)

type fakeSource struct {
	ids     []int64
	columns map[string]map[int64]float64
	expr    map[string]map[int64]float32
	gotIDs  []int64
}

func (f *fakeSource) ObsColumns() ([]string, error) {
	return slices.Sorted(maps.Keys(f.columns)), nil
}

func (f *fakeSource) ObsJoinIDs() ([]int64, error) { return f.ids, nil }

func (f *fakeSource) ObsFloatColumn(column string) (map[int64]float64, error) {
	c, ok := f.columns[column]
	if !ok {
		return nil, fmt.Errorf("column not found in obs: %s", column)
	}
	return c, nil
}

func (f *fakeSource) ExpressionByCellJoinID(gene string, ids []int64) (int64, map[int64]float32, error) {
	f.gotIDs = ids
	v, ok := f.expr[gene]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %s not in SOMA var", lineage.ErrUnknownGene, gene)
	}
	return 7, v, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ids: []int64{10, 11, 12, 13},
		columns: map[string]map[int64]float64{
			"pt_1": {10: 0, 11: 1, 12: 2},
			"w_1":  {10: 1, 11: 0.5, 13: 1},
			"pt_2": {10: 0, 13: 3},
			"w_2":  {10: 0.25, 13: 0.75},
		},
		expr: map[string]map[int64]float32{
			"GATA1": {11: 3, 13: 1},
		},
	}
}

func TestDataset_Columns(t *testing.T) {
	src := newFakeSource()
	ds, err := newDataset(src, []string{"pt_1", "pt_2"}, []string{"w_1", "w_2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"10", "11", "12", "13"}, ds.Cells())
	assert.Equal(t, 2, ds.NumLineages())

	pt, err := ds.Pseudotime(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, pt.Values[:3])
	assert.True(t, math.IsNaN(pt.Values[3]))

	w, err := ds.Weights(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.5, 0, 1}, w.Values)

	_, err = ds.Weights(2)
	assert.ErrorIs(t, err, lineage.ErrLineageOutOfRange)
}

func TestDataset_CountsAreSparse(t *testing.T) {
	src := newFakeSource()
	ds, err := newDataset(src, []string{"pt_1"}, []string{"w_1"})
	require.NoError(t, err)

	counts, err := ds.Counts("GATA1")
	require.NoError(t, err)
	assert.Equal(t, []string{"11", "13"}, counts.Cells)
	assert.Equal(t, []float64{3, 1}, counts.Values)
	assert.Equal(t, src.ids, src.gotIDs)

	_, err = ds.Counts("MPO")
	assert.ErrorIs(t, err, lineage.ErrUnknownGene)
}

func TestDataset_FeedsLineageExtraction(t *testing.T) {
	ds, err := newDataset(newFakeSource(), []string{"pt_1"}, []string{"w_1"})
	require.NoError(t, err)

	// Cell 13 carries weight but no pseudotime on lineage 1.
	_, err = lineage.Extract(ds, "GATA1", 0, lineage.RawCounts)
	assert.ErrorIs(t, err, lineage.ErrUndefinedPseudotime)

	ds, err = newDataset(newFakeSource(), []string{"pt_2"}, []string{"w_2"})
	require.NoError(t, err)
	sub, err := lineage.Extract(ds, "GATA1", 0, lineage.RawCounts)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "13"}, sub.Cells)
	assert.Equal(t, []float64{0, 1}, sub.Expression)
}

func TestNewDataset_Errors(t *testing.T) {
	_, err := newDataset(newFakeSource(), nil, nil)
	assert.Error(t, err)

	_, err = newDataset(newFakeSource(), []string{"pt_1", "pt_2"}, []string{"w_1"})
	assert.ErrorContains(t, err, "2 pseudotime columns but 1 weight columns")

	_, err = newDataset(newFakeSource(), []string{"missing"}, []string{"w_1"})
	assert.ErrorContains(t, err, `obs column "missing" not found (available: pt_1, pt_2, w_1, w_2)`)
	assert.False(t, errors.Is(err, lineage.ErrUnknownGene))

	_, err = newDataset(newFakeSource(), []string{"pt_1", "pt_2"}, []string{"w_1", "w_3"})
	assert.ErrorContains(t, err, `obs column "w_3" not found`)
}

func TestCoalesceRanges(t *testing.T) {
	assert.Nil(t, coalesceRanges(nil))
	assert.Equal(t, [][2]int64{{1, 3}, {5, 5}, {7, 8}}, coalesceRanges([]int64{8, 2, 1, 3, 5, 7, 2}))
}

func TestResolveExperimentURI(t *testing.T) {
	uri, err := ResolveExperimentURI("/data/soma")
	require.NoError(t, err)
	assert.Equal(t, "/data/soma/experiment.soma", uri)

	uri, err = ResolveExperimentURI(" /data/x/experiment.soma/ ")
	require.NoError(t, err)
	assert.Equal(t, "/data/x/experiment.soma", uri)

	_, err = ResolveExperimentURI("  ")
	assert.Error(t, err)
}
