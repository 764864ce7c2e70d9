package service

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soma-tiles/trajplot/internal/lineage"
)

type fakeRanking struct {
	method string
	dist   map[string]float64
	rank   map[string]int
}

func (r fakeRanking) Method() string { return r.method }

func (r fakeRanking) Score(gene string) (float64, bool) {
	d, ok := r.dist[gene]
	return d, ok
}

func (r fakeRanking) Rank(gene string) (int, bool) {
	v, ok := r.rank[gene]
	return v, ok
}

func newTestPanelService() *PanelService {
	return NewPanelService(newTestCurveService())
}

func TestPanelDims(t *testing.T) {
	tests := []struct {
		name             string
		n, rows, cols    int
		wantRows, wantCs int
		wantErr          bool
	}{
		{name: "square", n: 5, wantRows: 3, wantCs: 3},
		{name: "perfectSquare", n: 4, wantRows: 2, wantCs: 2},
		{name: "single", n: 1, wantRows: 1, wantCs: 1},
		{name: "empty", n: 0, wantRows: 1, wantCs: 1},
		{name: "rowsGiven", n: 5, rows: 1, wantRows: 1, wantCs: 5},
		{name: "colsGiven", n: 7, cols: 2, wantRows: 4, wantCs: 2},
		{name: "explicit", n: 5, rows: 2, cols: 3, wantRows: 2, wantCs: 3},
		{name: "tooSmall", n: 5, rows: 2, cols: 2, wantErr: true},
		{name: "negative", n: 2, rows: -1, cols: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, cols, err := PanelDims(tt.n, tt.rows, tt.cols)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrGridTooSmall)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, rows)
			assert.Equal(t, tt.wantCs, cols)
		})
	}
}

func TestMethodLabel(t *testing.T) {
	assert.Equal(t, "dtw", methodLabel("DTW_distance"))
	assert.Equal(t, "lr", methodLabel("Likelihood ratio"))
	assert.Equal(t, "", methodLabel("pearson"))
}

func TestSubtitle(t *testing.T) {
	r := fakeRanking{
		method: "dtw",
		dist:   map[string]float64{"A": 0.12345, "B": 2},
		rank:   map[string]int{"A": 3, "B": 1},
	}
	assert.Equal(t, "dtw.dist: 0.12 | dtw.rank: 3", subtitle("dtw", r, "A"))
	assert.Equal(t, "dtw.dist: 2 | dtw.rank: 1", subtitle("dtw", r, "B"))
	assert.Equal(t, ".dist: NA | .rank: NA", subtitle("", r, "C"))
}

func TestBuild_DefaultSquareGrid(t *testing.T) {
	ds := buildDataset(t, 5, ramp(30), ramp(30))
	genes := []string{"G1", "G2", "G3", "G4", "G5"}
	ranking := fakeRanking{
		method: "dtw",
		dist:   map[string]float64{"G1": 0.5, "G2": 0.25, "G3": 1.234, "G4": 3, "G5": 0.001},
		rank:   map[string]int{"G1": 2, "G2": 1, "G3": 3, "G4": 5, "G5": 4},
	}

	panel, err := newTestPanelService().Build(context.Background(), ds, ranking, genes, PanelOptions{NullModel: true})
	require.NoError(t, err)

	assert.Equal(t, 3, panel.Grid.Rows)
	assert.Equal(t, 3, panel.Grid.Cols)
	require.Len(t, panel.Grid.Cells, 9)
	for i, cell := range panel.Grid.Cells {
		if i < len(genes) {
			require.NotNil(t, cell, "cell %d", i)
			assert.Equal(t, genes[i], cell.Title)
			continue
		}
		assert.Nil(t, cell, "cell %d", i)
	}
	assert.Equal(t, "dtw.dist: 1.23 | dtw.rank: 3", panel.Grid.Cells[2].Subtitle)
	assert.Empty(t, panel.Failures)
	assert.Contains(t, panel.Results[0].Models, NullModelLabel)
}

func TestBuild_IsolatesFailures(t *testing.T) {
	ds := buildDataset(t, 2, ramp(20), ramp(20))
	genes := []string{"G1", "MISSING", "G2"}

	panel, err := newTestPanelService().Build(context.Background(), ds, nil, genes, PanelOptions{Rows: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, panel.Grid.Rows)
	assert.Equal(t, 3, panel.Grid.Cols)
	assert.NotNil(t, panel.Grid.Cells[0])
	assert.Nil(t, panel.Grid.Cells[1])
	assert.NotNil(t, panel.Grid.Cells[2])
	assert.Nil(t, panel.Results[1])

	require.Len(t, panel.Failures, 1)
	assert.Equal(t, "MISSING", panel.Failures[0].Gene)
	assert.ErrorIs(t, panel.Failures[0], lineage.ErrUnknownGene)
	assert.NotContains(t, panel.Results[0].Models, NullModelLabel)
}

func TestBuild_GridTooSmall(t *testing.T) {
	ds := buildDataset(t, 5, ramp(10))
	_, err := newTestPanelService().Build(context.Background(), ds, nil,
		[]string{"G1", "G2", "G3", "G4", "G5"}, PanelOptions{Rows: 2, Cols: 2})
	assert.ErrorIs(t, err, ErrGridTooSmall)
}

func TestBuild_WorkersKeepOrder(t *testing.T) {
	ds := buildDataset(t, 6, ramp(25), ramp(25))
	genes := []string{"G6", "G2", "G4", "G1", "G5", "G3"}
	svc := newTestPanelService()

	serial, err := svc.Build(context.Background(), ds, nil, genes, PanelOptions{})
	require.NoError(t, err)
	parallel, err := svc.Build(context.Background(), ds, nil, genes, PanelOptions{Workers: 4})
	require.NoError(t, err)

	if diff := cmp.Diff(serial.Grid, parallel.Grid); diff != "" {
		t.Errorf("parallel panel differs from serial (-serial +parallel):\n%s", diff)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ds := buildDataset(t, 1, ramp(10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestPanelService().Build(ctx, ds, nil, []string{"G1"}, PanelOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
