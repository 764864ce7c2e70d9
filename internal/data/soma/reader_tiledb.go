//go:build soma

package soma

import (
	"fmt"
	"math"
	"os"
	"sync"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/soma-tiles/trajplot/internal/lineage"
)

// Reader provides minimal SOMA reads via TileDB arrays.
type Reader struct {
	experimentURI string
	ctx           *tiledb.Context

	geneOnce sync.Once
	geneMap  map[string]int64 // gene_id -> gene soma_joinid
	geneErr  error

	obsMu    sync.Mutex
	obsCache map[string]map[int64]float64 // column -> cell_joinid -> value
	obsIDs   []int64
}

func NewReader(somaPath string) (*Reader, error) {
	uri, err := ResolveExperimentURI(somaPath)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("soma experiment not found at %s: %w", uri, statErr)
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}

	return &Reader{
		experimentURI: uri,
		ctx:           ctx,
	}, nil
}

func (r *Reader) Supported() bool { return true }

func (r *Reader) ExperimentURI() string { return r.experimentURI }

func (r *Reader) GeneJoinID(gene string) (int64, error) {
	r.geneOnce.Do(func() { r.geneErr = r.loadGeneMap() })
	if r.geneErr != nil {
		return 0, r.geneErr
	}
	id, ok := r.geneMap[gene]
	if !ok {
		return 0, fmt.Errorf("%w: %s not in SOMA var", lineage.ErrUnknownGene, gene)
	}
	return id, nil
}

// ExpressionByCellJoinID reads expression values for one gene at given cell joinids.
// Returns a sparse map: cell_joinid -> value (only non-zero entries).
func (r *Reader) ExpressionByCellJoinID(gene string, cellJoinIDs []int64) (geneJoinID int64, values map[int64]float32, err error) {
	geneJoinID, err = r.GeneJoinID(gene)
	if err != nil {
		return 0, nil, err
	}
	if len(cellJoinIDs) == 0 {
		return geneJoinID, map[int64]float32{}, nil
	}

	arr, release, err := r.openRead(r.experimentURI+"/ms/RNA/X/data", "X")
	if err != nil {
		return 0, nil, err
	}
	defer release()

	sub, err := arr.NewSubarray()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()

	// Filter to selected cells and one gene. Runs of consecutive joinids share one range.
	for _, rg := range coalesceRanges(cellJoinIDs) {
		if err := sub.AddRangeByName("soma_dim_0", tiledb.MakeRange[int64](rg[0], rg[1])); err != nil {
			return 0, nil, fmt.Errorf("failed to add cell range: %w", err)
		}
	}
	if err := sub.AddRangeByName("soma_dim_1", tiledb.MakeRange[int64](geneJoinID, geneJoinID)); err != nil {
		return 0, nil, fmt.Errorf("failed to add gene range: %w", err)
	}

	q, err := tiledb.NewQuery(r.ctx, arr)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()

	if err := q.SetSubarray(sub); err != nil {
		return 0, nil, fmt.Errorf("failed to set subarray: %w", err)
	}
	// For sparse reads, unordered is generally fine.
	_ = q.SetLayout(tiledb.TILEDB_UNORDERED)

	// Worst-case nnz for (cells subset) x (one gene) is len(cells).
	n := len(cellJoinIDs)
	outCell := make([]int64, n)
	outGene := make([]int64, n)
	outVal := make([]float32, n)
	valNullable, err := attributeNullable(arr, "soma_data")
	if err != nil {
		return 0, nil, fmt.Errorf("failed to inspect soma_data nullable: %w", err)
	}
	var outValValid []uint8
	if valNullable {
		outValValid = make([]uint8, n)
	}

	if _, err := q.SetDataBuffer("soma_dim_0", outCell); err != nil {
		return 0, nil, fmt.Errorf("failed to set buffer soma_dim_0: %w", err)
	}
	if _, err := q.SetDataBuffer("soma_dim_1", outGene); err != nil {
		return 0, nil, fmt.Errorf("failed to set buffer soma_dim_1: %w", err)
	}
	if _, err := q.SetDataBuffer("soma_data", outVal); err != nil {
		return 0, nil, fmt.Errorf("failed to set buffer soma_data: %w", err)
	}
	// If soma_data is nullable, validity buffer is required.
	if valNullable {
		if _, err := q.SetValidityBuffer("soma_data", outValValid); err != nil {
			return 0, nil, fmt.Errorf("failed to set validity buffer soma_data: %w", err)
		}
	}

	if err := q.Submit(); err != nil {
		return 0, nil, fmt.Errorf("query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return 0, nil, fmt.Errorf("query status failed: %w", err)
	}
	if status != tiledb.TILEDB_COMPLETED && status != tiledb.TILEDB_INCOMPLETE {
		return 0, nil, fmt.Errorf("unexpected query status: %v", status)
	}

	elems, err := q.ResultBufferElements()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get result buffer elements: %w", err)
	}
	got := clampLen(int(elems["soma_data"][1]), len(outVal))
	gotValid := 0
	if valNullable {
		gotValid = clampLen(int(elems["soma_data"][2]), len(outValValid))
	}

	values = make(map[int64]float32, got)
	for i := 0; i < got; i++ {
		// If validity was returned and marks null, skip.
		if valNullable && i < gotValid && outValValid[i] == 0 {
			continue
		}
		// Expect outGene[i] == geneJoinID; but we don't require it.
		values[outCell[i]] = outVal[i]
	}
	return geneJoinID, values, nil
}

func (r *Reader) loadGeneMap() error {
	arr, release, err := r.openRead(r.experimentURI+"/ms/RNA/var", "var")
	if err != nil {
		return err
	}
	defer release()

	q, freeQuery, err := r.scanJoinIDs(arr, "var")
	if err != nil {
		return err
	}
	defer freeQuery()
	if q == nil {
		r.geneMap = map[string]int64{}
		return nil
	}

	// Stream in chunks; var-length gene_id bytes grow on demand.
	const chunkRows = 4096
	joinIDs := make([]int64, chunkRows)
	offsets := make([]uint64, chunkRows)
	geneNullable, err := attributeNullable(arr, "gene_id")
	if err != nil {
		return fmt.Errorf("failed to inspect gene_id nullable: %w", err)
	}
	var validity []uint8
	if geneNullable {
		validity = make([]uint8, chunkRows)
	}
	dataBytes := make([]byte, 1024*1024)

	m := make(map[string]int64, 32768)
	for {
		// Buffer sizes are in/out parameters, so every submit resets them.
		if _, err := q.SetDataBuffer("soma_joinid", joinIDs); err != nil {
			return fmt.Errorf("failed to set buffer soma_joinid: %w", err)
		}
		if _, err := q.SetOffsetsBuffer("gene_id", offsets); err != nil {
			return fmt.Errorf("failed to set offsets buffer gene_id: %w", err)
		}
		if _, err := q.SetDataBuffer("gene_id", dataBytes); err != nil {
			return fmt.Errorf("failed to set data buffer gene_id: %w", err)
		}
		if geneNullable {
			if _, err := q.SetValidityBuffer("gene_id", validity); err != nil {
				return fmt.Errorf("failed to set validity buffer gene_id: %w", err)
			}
		}

		if err := q.Submit(); err != nil {
			return fmt.Errorf("var query submit failed: %w", err)
		}
		status, err := q.Status()
		if err != nil {
			return fmt.Errorf("var query status failed: %w", err)
		}
		elems, err := q.ResultBufferElements()
		if err != nil {
			return fmt.Errorf("var query ResultBufferElements failed: %w", err)
		}

		usedJoin := clampLen(int(elems["soma_joinid"][1]), len(joinIDs))
		usedOffsets := clampLen(int(elems["gene_id"][0]), len(offsets))
		usedBytes := clampLen(int(elems["gene_id"][1]), len(dataBytes))
		usedValid := 0
		if geneNullable {
			usedValid = clampLen(int(elems["gene_id"][2]), len(validity))
		}

		if status == tiledb.TILEDB_INCOMPLETE && usedJoin == 0 && usedOffsets == 0 && usedBytes == 0 {
			if len(dataBytes) >= 64*1024*1024 {
				return fmt.Errorf("var query buffers too small (gene_id); grew to %d bytes and still no progress", len(dataBytes))
			}
			dataBytes = make([]byte, len(dataBytes)*2)
			continue
		}

		rows := min(usedJoin, usedOffsets)
		if usedValid > 0 {
			rows = min(rows, usedValid)
		}
		data := dataBytes[:usedBytes]
		for i := 0; i < rows; i++ {
			if usedValid > 0 && validity[i] == 0 {
				continue
			}
			start, end := int(offsets[i]), len(data)
			if i+1 < usedOffsets {
				end = int(offsets[i+1])
			}
			if start < 0 || end < start || end > len(data) || end == start {
				continue
			}
			m[string(data[start:end])] = joinIDs[i]
		}

		switch status {
		case tiledb.TILEDB_COMPLETED:
			r.geneMap = m
			return nil
		case tiledb.TILEDB_INCOMPLETE:
		default:
			return fmt.Errorf("unexpected TileDB query status for var: %v", status)
		}
	}
}

func boundsMinMaxInt64(bounds interface{}) (int64, int64, error) {
	switch v := bounds.(type) {
	case []int64:
		if len(v) >= 2 {
			return v[0], v[1], nil
		}
	case []int32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint64:
		if len(v) >= 2 {
			if v[0] > math.MaxInt64 || v[1] > math.MaxInt64 {
				return 0, 0, fmt.Errorf("uint64 bounds exceed int64 range")
			}
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported bounds type for non-empty domain")
}

func attributeNullable(arr *tiledb.Array, name string) (bool, error) {
	schema, err := arr.Schema()
	if err != nil {
		return false, err
	}
	defer schema.Free()
	attr, err := schema.AttributeFromName(name)
	if err != nil {
		return false, err
	}
	defer attr.Free()
	return attr.Nullable()
}

// AllGenes returns a map of gene_id -> soma_joinid for all genes.
func (r *Reader) AllGenes() (map[string]int64, error) {
	r.geneOnce.Do(func() { r.geneErr = r.loadGeneMap() })
	if r.geneErr != nil {
		return nil, r.geneErr
	}
	return r.geneMap, nil
}

// ObsColumns returns the attribute names of the obs DataFrame, soma_joinid excluded.
func (r *Reader) ObsColumns() ([]string, error) {
	arr, release, err := r.openRead(r.experimentURI+"/obs", "obs")
	if err != nil {
		return nil, err
	}
	defer release()

	schema, err := arr.Schema()
	if err != nil {
		return nil, fmt.Errorf("failed to get obs schema: %w", err)
	}
	defer schema.Free()

	nattrs, err := schema.AttributeNum()
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute count: %w", err)
	}

	var columns []string
	for i := uint(0); i < nattrs; i++ {
		attr, err := schema.AttributeFromIndex(i)
		if err != nil {
			continue
		}
		name, err := attr.Name()
		attr.Free()
		if err != nil || name == "soma_joinid" {
			continue
		}
		columns = append(columns, name)
	}
	return columns, nil
}

// ObsJoinIDs returns every obs soma_joinid in ascending order.
func (r *Reader) ObsJoinIDs() ([]int64, error) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	if r.obsIDs == nil {
		if _, err := r.loadObsFloatColumnLocked(""); err != nil {
			return nil, err
		}
	}
	return r.obsIDs, nil
}

// ObsFloatColumn returns a numeric obs column keyed by cell joinid. Null
// entries are left out. Results are cached per column.
func (r *Reader) ObsFloatColumn(column string) (map[int64]float64, error) {
	if column == "" {
		return nil, fmt.Errorf("empty obs column name")
	}
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	if cached, ok := r.obsCache[column]; ok {
		return cached, nil
	}
	return r.loadObsFloatColumnLocked(column)
}

// loadObsFloatColumnLocked streams soma_joinid and, when column is not empty,
// one float32 or float64 attribute. Callers hold obsMu.
func (r *Reader) loadObsFloatColumnLocked(column string) (map[int64]float64, error) {
	arr, release, err := r.openRead(r.experimentURI+"/obs", "obs")
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		is32        bool
		colNullable bool
	)
	if column != "" {
		schema, err := arr.Schema()
		if err != nil {
			return nil, fmt.Errorf("failed to get obs schema: %w", err)
		}
		defer schema.Free()
		attr, err := schema.AttributeFromName(column)
		if err != nil {
			return nil, fmt.Errorf("column not found in obs: %s", column)
		}
		defer attr.Free()
		dt, err := attr.Type()
		if err != nil {
			return nil, fmt.Errorf("failed to get type of obs column %s: %w", column, err)
		}
		switch dt {
		case tiledb.TILEDB_FLOAT64:
		case tiledb.TILEDB_FLOAT32:
			is32 = true
		default:
			return nil, fmt.Errorf("obs column %s is not float32/float64 (%v)", column, dt)
		}
		colNullable, _ = attr.Nullable()
	}

	q, freeQuery, err := r.scanJoinIDs(arr, "obs")
	if err != nil {
		return nil, err
	}
	defer freeQuery()
	result := make(map[int64]float64)
	if q == nil {
		r.storeObsLocked(column, result, []int64{})
		return result, nil
	}

	// Stream in chunks
	const chunkRows = 8192
	joinIDs := make([]int64, chunkRows)
	var (
		vals64   []float64
		vals32   []float32
		validity []uint8
	)
	if column != "" {
		if is32 {
			vals32 = make([]float32, chunkRows)
		} else {
			vals64 = make([]float64, chunkRows)
		}
		if colNullable {
			validity = make([]uint8, chunkRows)
		}
	}

	ids := make([]int64, 0, chunkRows)
	for {
		if _, err := q.SetDataBuffer("soma_joinid", joinIDs); err != nil {
			return nil, fmt.Errorf("failed to set buffer soma_joinid: %w", err)
		}
		if column != "" {
			if is32 {
				_, err = q.SetDataBuffer(column, vals32)
			} else {
				_, err = q.SetDataBuffer(column, vals64)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to set data buffer %s: %w", column, err)
			}
			if colNullable {
				if _, err := q.SetValidityBuffer(column, validity); err != nil {
					return nil, fmt.Errorf("failed to set validity buffer %s: %w", column, err)
				}
			}
		}

		if err := q.Submit(); err != nil {
			return nil, fmt.Errorf("obs query submit failed: %w", err)
		}
		status, err := q.Status()
		if err != nil {
			return nil, fmt.Errorf("obs query status failed: %w", err)
		}
		elems, err := q.ResultBufferElements()
		if err != nil {
			return nil, fmt.Errorf("obs query ResultBufferElements failed: %w", err)
		}

		used := clampLen(int(elems["soma_joinid"][1]), len(joinIDs))
		if status == tiledb.TILEDB_INCOMPLETE && used == 0 {
			return nil, fmt.Errorf("obs query made no progress for column %s", column)
		}
		for i := 0; i < used; i++ {
			id := joinIDs[i]
			ids = append(ids, id)
			if column == "" || (colNullable && validity[i] == 0) {
				continue
			}
			if is32 {
				result[id] = float64(vals32[i])
			} else {
				result[id] = vals64[i]
			}
		}

		if status == tiledb.TILEDB_COMPLETED {
			r.storeObsLocked(column, result, ids)
			return result, nil
		}
		if status != tiledb.TILEDB_INCOMPLETE {
			return nil, fmt.Errorf("unexpected TileDB query status for obs: %v", status)
		}
	}
}

func (r *Reader) storeObsLocked(column string, values map[int64]float64, ids []int64) {
	if r.obsIDs == nil {
		r.obsIDs = ids
	}
	if column == "" {
		return
	}
	if r.obsCache == nil {
		r.obsCache = make(map[string]map[int64]float64)
	}
	r.obsCache[column] = values
}

// openRead opens the array at uri for reading. release closes and frees it.
func (r *Reader) openRead(uri, what string) (arr *tiledb.Array, release func(), err error) {
	arr, err = tiledb.NewArray(r.ctx, uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s array (%s): %w", what, uri, err)
	}
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		arr.Free()
		return nil, nil, fmt.Errorf("failed to open %s array for read: %w", what, err)
	}
	return arr, func() {
		arr.Close()
		arr.Free()
	}, nil
}

// scanJoinIDs prepares a row-major query over the whole non-empty soma_joinid
// domain of a dataframe. q is nil when the dataframe is empty.
func (r *Reader) scanJoinIDs(arr *tiledb.Array, what string) (q *tiledb.Query, release func(), err error) {
	ned, isEmpty, err := arr.NonEmptyDomainFromName("soma_joinid")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get %s non-empty domain: %w", what, err)
	}
	if isEmpty || ned == nil {
		return nil, func() {}, nil
	}
	minID, maxID, err := boundsMinMaxInt64(ned.Bounds)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s non-empty domain: %w", what, err)
	}

	sub, err := arr.NewSubarray()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s subarray: %w", what, err)
	}
	if err := sub.AddRangeByName("soma_joinid", tiledb.MakeRange[int64](minID, maxID)); err != nil {
		sub.Free()
		return nil, nil, fmt.Errorf("failed to set %s range: %w", what, err)
	}
	q, err = tiledb.NewQuery(r.ctx, arr)
	if err != nil {
		sub.Free()
		return nil, nil, fmt.Errorf("failed to create %s query: %w", what, err)
	}
	release = func() {
		q.Free()
		sub.Free()
	}
	if err := q.SetSubarray(sub); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to set %s subarray: %w", what, err)
	}
	if err := q.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to set %s query layout: %w", what, err)
	}
	return q, release, nil
}

func clampLen(n, limit int) int {
	if n > limit {
		return limit
	}
	return n
}
