package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/lauramurakaru/mdmp/internal/engine"
)

// Mappings holds, per attribute, the score observed for each raw value.
type Mappings map[engine.Attribute]map[string]int

// DeriveMappings rebuilds score mappings from a CSV that stores each
// attribute next to its "<attribute>_Score" column. For every raw value the
// most frequent score wins; ties go to the lowest score. Attributes without
// a score column are skipped.
func DeriveMappings(r io.Reader) (Mappings, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	type pair struct {
		attr       engine.Attribute
		raw, score int
	}
	var pairs []pair
	for _, a := range engine.Attributes() {
		ri, rok := index[a.Key()]
		si, sok := index[a.ScoreKey()]
		if rok && sok {
			pairs = append(pairs, pair{attr: a, raw: ri, score: si})
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no attribute/score column pairs in header")
	}

	// counts[attr][raw][score] = occurrences
	counts := make(map[engine.Attribute]map[string]map[int]int, len(pairs))
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
		for _, p := range pairs {
			score, err := strconv.Atoi(rec[p.score])
			if err != nil {
				// Scores are sometimes written as floats ("3.0").
				f, ferr := strconv.ParseFloat(rec[p.score], 64)
				if ferr != nil {
					return nil, &RowError{Line: line, Err: fmt.Errorf("%s: %w", p.attr.ScoreKey(), err)}
				}
				score = int(f)
			}
			byRaw := counts[p.attr]
			if byRaw == nil {
				byRaw = make(map[string]map[int]int)
				counts[p.attr] = byRaw
			}
			if byRaw[rec[p.raw]] == nil {
				byRaw[rec[p.raw]] = make(map[int]int)
			}
			byRaw[rec[p.raw]][score]++
		}
	}

	out := make(Mappings, len(counts))
	for a, byRaw := range counts {
		m := make(map[string]int, len(byRaw))
		for raw, scores := range byRaw {
			m[raw] = mode(scores)
		}
		out[a] = m
	}
	return out, nil
}

func mode(counts map[int]int) int {
	best, bestN := 0, -1
	for score, n := range counts {
		if n > bestN || (n == bestN && score < best) {
			best, bestN = score, n
		}
	}
	return best
}

// MappingDiff is one disagreement between derived mappings and the score table.
type MappingDiff struct {
	Attribute engine.Attribute
	Value     string
	Derived   int
	Table     *int // nil when the table has no entry
}

func (d MappingDiff) String() string {
	if d.Table == nil {
		return fmt.Sprintf("%s %q: derived %d, missing from score table", d.Attribute.Key(), d.Value, d.Derived)
	}
	return fmt.Sprintf("%s %q: derived %d, score table %d", d.Attribute.Key(), d.Value, d.Derived, *d.Table)
}

// Diff lists every derived value whose score differs from the score table,
// sorted by attribute then value.
func (m Mappings) Diff() []MappingDiff {
	var out []MappingDiff
	for a, byRaw := range m {
		for raw, derived := range byRaw {
			table, err := engine.Lookup(a, raw)
			switch {
			case err != nil:
				out = append(out, MappingDiff{Attribute: a, Value: raw, Derived: derived})
			case table != derived:
				t := table
				out = append(out, MappingDiff{Attribute: a, Value: raw, Derived: derived, Table: &t})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attribute != out[j].Attribute {
			return out[i].Attribute < out[j].Attribute
		}
		return out[i].Value < out[j].Value
	})
	return out
}
