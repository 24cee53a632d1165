package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseScenario() map[string]string {
	return map[string]string{
		"Target_Category":             "Artillery Unit",
		"Target_Vulnerability":        "High",
		"Terrain_Type":                "Open Field",
		"Civilian_Presence":           "0",
		"Damage_Assessment":           "Medium",
		"Time_Sensitivity":            "High",
		"Weaponeering":                "Precision Guided Munition",
		"Friendly_Fire":               "Very_Low",
		"Politically_Sensitive":       "Medium",
		"Legal_Advice":                "Lawful",
		"Ethical_Concerns":            "No",
		"Collateral_Damage_Potential": "Very_Low",
		"AI_Distinction (%)":          "75",
		"AI_Proportionality (%)":      "75",
		"AI_Military_Necessity":       "Yes",
		"Human_Distinction (%)":       "75",
		"Human_Proportionality (%)":   "75",
		"Human_Military_Necessity":    "Yes",
	}
}

func variant(kv ...string) map[string]string {
	raw := baseScenario()
	for i := 0; i+1 < len(kv); i += 2 {
		raw[kv[i]] = kv[i+1]
	}
	return raw
}

// writeCSV renders raws with each attribute followed by its score column and
// a trailing Total_Score, the layout of exported study datasets.
func writeCSV(t *testing.T, raws []map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	var header []string
	for _, a := range engine.Attributes() {
		header = append(header, a.Key(), a.ScoreKey())
	}
	header = append(header, engine.TotalScoreKey)
	require.NoError(t, w.Write(header))
	for _, raw := range raws {
		var rec []string
		total := 0
		for _, a := range engine.Attributes() {
			score, err := engine.Lookup(a, raw[a.Key()])
			if err != nil {
				score = 0
			}
			total += score
			rec = append(rec, raw[a.Key()], strconv.Itoa(score))
		}
		rec = append(rec, strconv.Itoa(total))
		require.NoError(t, w.Write(rec))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return buf.String()
}

func TestLoad(t *testing.T) {
	raws := []map[string]string{
		baseScenario(),
		variant("Target_Category", "Chapel", "Civilian_Presence", "100-200"),
		variant("AI_Distinction (%)", "5"),
	}
	d, err := Load(strings.NewReader(writeCSV(t, raws)))
	require.NoError(t, err)
	require.Equal(t, 3, d.Len())

	rows := d.Rows()
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 48, rows[0].Scored.Total)
	assert.Equal(t, "Chapel", rows[1].Scenario.Get(engine.AttrTargetCategory))
	assert.Equal(t, 100, rows[1].Scenario.CivilianPresence())
	assert.Equal(t, 40, rows[2].Scored.Total)
	assert.Equal(t, raws, d.Raws())
}

func TestLoad_UnmappedRowReportsLine(t *testing.T) {
	raws := []map[string]string{
		baseScenario(),
		baseScenario(),
		variant("Terrain_Type", "Lunar Surface"),
	}
	_, err := Load(strings.NewReader(writeCSV(t, raws)))
	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr), "got %v", err)
	assert.Equal(t, 4, rowErr.Line)

	var unmapped *engine.UnmappedValueError
	require.True(t, errors.As(err, &unmapped))
	assert.Equal(t, "Lunar Surface", unmapped.Value)
}

func TestLoad_MissingColumn(t *testing.T) {
	_, err := Load(strings.NewReader("Target_Category,Terrain_Type\nChapel,Village\n"))
	var missing *engine.MissingAttributeError
	assert.True(t, errors.As(err, &missing))
}

func TestLoad_EmptyInput(t *testing.T) {
	_, err := Load(strings.NewReader(""))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.csv")
	require.NoError(t, os.WriteFile(path, []byte(writeCSV(t, []map[string]string{baseScenario()})), 0o600))
	d, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestRandom(t *testing.T) {
	d, err := FromScenarios([]map[string]string{baseScenario(), variant("Target_Category", "Chapel")})
	require.NoError(t, err)

	rng := NewRand(7)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		row, err := d.Random(rng)
		require.NoError(t, err)
		seen[row.Scenario.Get(engine.AttrTargetCategory)] = true
	}
	assert.Len(t, seen, 2)

	_, err = (&Dataset{}).Random(rng)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestShuffle_PreservesColumnMultisets(t *testing.T) {
	raws := []map[string]string{
		baseScenario(),
		variant("Target_Category", "Chapel", "Terrain_Type", "Village"),
		variant("Target_Category", "Frigate", "Civilian_Presence", "50-99", "Legal_Advice", "Neutral"),
		variant("Weaponeering", "Torpedo", "AI_Distinction (%)", "12"),
	}
	d, err := FromScenarios(raws)
	require.NoError(t, err)

	shuffled, err := d.Shuffle(NewRand(42))
	require.NoError(t, err)
	require.Equal(t, d.Len(), shuffled.Len())

	for _, a := range engine.Attributes() {
		var before, after []string
		for _, r := range d.Rows() {
			before = append(before, r.Scenario.Get(a))
		}
		for _, r := range shuffled.Rows() {
			after = append(after, r.Scenario.Get(a))
		}
		assert.ElementsMatch(t, before, after, a.Key())
	}

	for _, r := range shuffled.Rows() {
		sum := 0
		for _, a := range engine.Attributes() {
			sum += r.Scored.Score(a)
		}
		assert.Equal(t, sum, r.Scored.Total, "totals are recomputed after shuffling")
	}

	// The source dataset is untouched.
	assert.Equal(t, raws, d.Raws())
}

func TestShuffle_Deterministic(t *testing.T) {
	raws := make([]map[string]string, 0, 10)
	for _, tc := range []string{"Chapel", "Frigate", "Barracks", "Naval Base", "Radar Installation", "Sniper Team"} {
		raws = append(raws, variant("Target_Category", tc))
	}
	d, err := FromScenarios(raws)
	require.NoError(t, err)

	a, err := d.Shuffle(NewRand(99))
	require.NoError(t, err)
	b, err := d.Shuffle(NewRand(99))
	require.NoError(t, err)
	assert.Equal(t, a.Raws(), b.Raws())
}
