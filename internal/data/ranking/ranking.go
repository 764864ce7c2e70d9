// Package ranking loads per-gene trajectory rankings used to annotate panels.
package ranking

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Entry is one ranked gene.
type Entry struct {
	Gene     string  `yaml:"gene"`
	Distance float64 `yaml:"distance"`
	// Rank is 1-based. Zero means unset; Parse ranks unset entries after the
	// explicit ones, by ascending Distance.
	Rank int `yaml:"rank"`
}

// Table is a ranking of genes produced by one method, e.g. "DTW_distance".
type Table struct {
	MethodName string  `yaml:"method"`
	Genes      []Entry `yaml:"genes"`

	byGene map[string]int
}

// Load reads a ranking table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ranking %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a YAML ranking table and indexes it by gene.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) index() error {
	// Entries without a rank follow the ranked ones, by ascending distance.
	next := 0
	var missing []int
	for i, e := range t.Genes {
		if e.Rank < 0 {
			return fmt.Errorf("gene %s has negative rank %d", e.Gene, e.Rank)
		}
		if e.Rank == 0 {
			missing = append(missing, i)
			continue
		}
		next = max(next, e.Rank)
	}
	sort.SliceStable(missing, func(a, b int) bool {
		return t.Genes[missing[a]].Distance < t.Genes[missing[b]].Distance
	})
	for _, i := range missing {
		next++
		t.Genes[i].Rank = next
	}

	t.byGene = make(map[string]int, len(t.Genes))
	for i, e := range t.Genes {
		if e.Gene == "" {
			return fmt.Errorf("entry %d has no gene", i)
		}
		if _, dup := t.byGene[e.Gene]; dup {
			return fmt.Errorf("duplicate gene %s", e.Gene)
		}
		t.byGene[e.Gene] = i
	}
	return nil
}

func (t *Table) Method() string { return t.MethodName }

func (t *Table) Score(gene string) (float64, bool) {
	i, ok := t.byGene[gene]
	if !ok {
		return 0, false
	}
	return t.Genes[i].Distance, true
}

func (t *Table) Rank(gene string) (int, bool) {
	i, ok := t.byGene[gene]
	if !ok {
		return 0, false
	}
	return t.Genes[i].Rank, true
}

// Top returns up to n genes in rank order. n <= 0 returns all of them.
func (t *Table) Top(n int) []string {
	entries := append([]Entry(nil), t.Genes...)
	sort.SliceStable(entries, func(a, b int) bool { return entries[a].Rank < entries[b].Rank })
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = entries[i].Gene
	}
	return out
}
