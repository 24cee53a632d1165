// Package dataset loads scenario corpora from CSV and samples them.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/lauramurakaru/mdmp/internal/engine"
)

// ErrEmpty is returned when sampling a dataset with no rows.
var ErrEmpty = errors.New("dataset has no rows")

// RowError reports a CSV row that does not form a valid scenario.
// Line is the 1-based line number in the file, header included.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Row is one validated, scored scenario.
type Row struct {
	Line     int
	Scenario engine.Scenario
	Scored   *engine.ScoredScenario
}

// Dataset is an immutable list of rows.
type Dataset struct {
	rows []Row
}

// LoadFile reads a CSV dataset from path.
func LoadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a CSV dataset. The header must name every attribute column;
// extra columns (including stored *_Score and Total_Score) are ignored and
// scores are recomputed from the score table. A row with an unmapped value
// fails the whole load with a *RowError.
func Load(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := attributeColumns(header)
	if err != nil {
		return nil, err
	}

	d := &Dataset{}
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
		raw := make(map[string]string, engine.NumAttributes)
		for _, a := range engine.Attributes() {
			raw[a.Key()] = rec[cols[a]]
		}
		row, err := newRow(line, raw)
		if err != nil {
			return nil, err
		}
		d.rows = append(d.rows, row)
	}
	return d, nil
}

// FromScenarios builds a dataset from raw scenarios, numbering them from 1.
func FromScenarios(raws []map[string]string) (*Dataset, error) {
	d := &Dataset{rows: make([]Row, 0, len(raws))}
	for i, raw := range raws {
		row, err := newRow(i+1, raw)
		if err != nil {
			return nil, err
		}
		d.rows = append(d.rows, row)
	}
	return d, nil
}

func newRow(line int, raw map[string]string) (Row, error) {
	s, err := engine.NewScenario(raw)
	if err != nil {
		return Row{}, &RowError{Line: line, Err: err}
	}
	sc, err := engine.Score(s)
	if err != nil {
		return Row{}, &RowError{Line: line, Err: err}
	}
	return Row{Line: line, Scenario: s, Scored: sc}, nil
}

func attributeColumns(header []string) ([engine.NumAttributes]int, error) {
	var cols [engine.NumAttributes]int
	for i := range cols {
		cols[i] = -1
	}
	for i, name := range header {
		if a, ok := engine.ParseAttribute(name); ok {
			cols[a] = i
		}
	}
	for _, a := range engine.Attributes() {
		if cols[a] < 0 {
			return cols, &engine.MissingAttributeError{Attribute: a}
		}
	}
	return cols, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// Rows returns a copy of the rows.
func (d *Dataset) Rows() []Row {
	return append([]Row(nil), d.rows...)
}

// Raws returns every row as a raw attribute map.
func (d *Dataset) Raws() []map[string]string {
	out := make([]map[string]string, len(d.rows))
	for i, r := range d.rows {
		out[i] = r.Scenario.Raw()
	}
	return out
}

// Random returns a uniformly chosen row.
func (d *Dataset) Random(rng *rand.Rand) (Row, error) {
	if len(d.rows) == 0 {
		return Row{}, ErrEmpty
	}
	return d.rows[rng.IntN(len(d.rows))], nil
}

// Shuffle permutes every attribute column independently, producing synthetic
// scenarios whose values stay inside each attribute's observed domain. Scores
// and totals are recomputed for the new rows; d is not modified.
func (d *Dataset) Shuffle(rng *rand.Rand) (*Dataset, error) {
	n := len(d.rows)
	columns := make([][]string, engine.NumAttributes)
	for _, a := range engine.Attributes() {
		col := make([]string, n)
		for i, r := range d.rows {
			col[i] = r.Scenario.Get(a)
		}
		rng.Shuffle(n, func(i, j int) { col[i], col[j] = col[j], col[i] })
		columns[a] = col
	}

	out := &Dataset{rows: make([]Row, 0, n)}
	for i := 0; i < n; i++ {
		raw := make(map[string]string, engine.NumAttributes)
		for _, a := range engine.Attributes() {
			raw[a.Key()] = columns[a][i]
		}
		row, err := newRow(i+1, raw)
		if err != nil {
			return nil, err
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

// NewRand returns a generator seeded with seed, or from the runtime's
// entropy when seed is zero.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
