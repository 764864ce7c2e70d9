//go:build !soma

package soma

import (
	"fmt"
	"os"
)

// Reader is the stand-in used without "-tags soma". It validates the
// experiment path so configuration mistakes surface early; every read
// returns ErrUnsupported.
type Reader struct {
	experimentURI string
}

func NewReader(somaPath string) (*Reader, error) {
	uri, err := ResolveExperimentURI(somaPath)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("soma experiment not found at %s: %w", uri, statErr)
	}
	return &Reader{experimentURI: uri}, nil
}

func (r *Reader) Supported() bool       { return false }
func (r *Reader) ExperimentURI() string { return r.experimentURI }

func (r *Reader) GeneJoinID(string) (int64, error)                 { return 0, ErrUnsupported }
func (r *Reader) AllGenes() (map[string]int64, error)              { return nil, ErrUnsupported }
func (r *Reader) ObsColumns() ([]string, error)                    { return nil, ErrUnsupported }
func (r *Reader) ObsJoinIDs() ([]int64, error)                     { return nil, ErrUnsupported }
func (r *Reader) ObsFloatColumn(string) (map[int64]float64, error) { return nil, ErrUnsupported }

func (r *Reader) ExpressionByCellJoinID(string, []int64) (int64, map[int64]float32, error) {
	return 0, nil, ErrUnsupported
}
