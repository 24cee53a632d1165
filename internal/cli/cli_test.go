package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/lauramurakaru/mdmp/internal/config"
	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/storage"
	"github.com/lauramurakaru/mdmp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func engageScenario() map[string]string {
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

func with(raw map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	out[key] = value
	return out
}

// run executes the root command with a config path that does not exist, so
// every command starts from the built-in defaults.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	evalPolicy, evalFormat, evalAdvisory = "", "text", false
	attrFormat = "text"
	sampleDataset, sampleSeed, sampleCount, sampleSynth = "", 0, 1, false
	mappingsCSV = ""
	logLevel = "error"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "--log-level", "error"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeYAML(t *testing.T, v any) string {
	t.Helper()
	data, err := yaml.Marshal(v)
	require.NoError(t, err)
	return writeFile(t, "scenarios.yaml", data)
}

// writeCSV writes scenarios with their score columns. scoreOverride replaces
// the stored score of one attribute in every row.
func writeCSV(t *testing.T, rows []map[string]string, scoreOverride map[string]int) string {
	t.Helper()
	var header []string
	for _, a := range engine.Attributes() {
		header = append(header, a.Key(), a.ScoreKey())
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(header))
	for _, raw := range rows {
		var rec []string
		for _, a := range engine.Attributes() {
			score, err := engine.Lookup(a, raw[a.Key()])
			require.NoError(t, err)
			if s, ok := scoreOverride[a.Key()]; ok {
				score = s
			}
			rec = append(rec, raw[a.Key()], strconv.Itoa(score))
		}
		require.NoError(t, w.Write(rec))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return writeFile(t, "scenarios.csv", buf.Bytes())
}

func TestReadScenarios(t *testing.T) {
	single := writeFile(t, "one.yaml", []byte(`
Target_Category: Artillery Unit
"AI_Distinction (%)": 75
"Human_Proportionality (%)": 62.5
`))
	got, err := readScenarios(single, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Artillery Unit", got[0]["Target_Category"])
	assert.Equal(t, "75", got[0]["AI_Distinction (%)"])
	assert.Equal(t, "62.5", got[0]["Human_Proportionality (%)"])

	list := writeFile(t, "list.json", []byte(`[{"Terrain_Type": "Open Field"}, {"Terrain_Type": "Urban Center"}]`))
	got, err = readScenarios(list, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Urban Center", got[1]["Terrain_Type"])

	got, err = readScenarios("-", strings.NewReader("Weaponeering: Precision Guided Munition\n"))
	require.NoError(t, err)
	assert.Equal(t, "Precision Guided Munition", got[0]["Weaponeering"])

	for name, body := range map[string]string{
		"scalar":      "just text",
		"bad item":    "- a: b\n- 3\n",
		"nested":      "Terrain_Type: {a: b}\n",
		"empty list":  "[]",
		"broken yaml": "a: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := readScenarios(writeFile(t, "bad.yaml", []byte(body)), nil)
			assert.Error(t, err)
		})
	}
}

func TestEvaluateCommand_Text(t *testing.T) {
	path := writeYAML(t, []map[string]string{
		engageScenario(),
		with(engageScenario(), "Target_Category", "Chapel"),
	})

	out, err := run(t, "evaluate", path, "--format", "text")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "Engage")
	assert.Contains(t, lines[1], "48")
	assert.Contains(t, lines[2], "Do Not Engage")
	assert.Contains(t, lines[2], "protected_category")
}

func TestEvaluateCommand_JSON(t *testing.T) {
	path := writeYAML(t, engageScenario())

	out, err := run(t, "evaluate", path, "--format", "json")
	require.NoError(t, err)
	var evs []evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, "Engage", evs[0].Decision)
	assert.Equal(t, "threshold", evs[0].Policy)
	assert.Equal(t, 48, evs[0].TotalScore)
	assert.Equal(t, 3, evs[0].Scores["Target_Category_Score"])
	assert.Len(t, evs[0].Percentages, engine.NumAttributes)
}

func TestEvaluateCommand_ClassifierPolicyWithoutModel(t *testing.T) {
	path := writeYAML(t, engageScenario())

	out, err := run(t, "evaluate", path, "--format", "json", "--policy", "classifier")
	require.NoError(t, err)
	var evs []evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &evs))
	assert.Equal(t, "Do Not Know", evs[0].Decision)
	assert.Contains(t, evs[0].Reason, engine.PredictionUnavailablePrefix)
}

func TestEvaluateCommand_Errors(t *testing.T) {
	path := writeYAML(t, []map[string]string{
		engageScenario(),
		with(engageScenario(), "Terrain_Type", "Moon"),
	})
	out, err := run(t, "evaluate", path, "--format", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "Moon")

	_, err = run(t, "evaluate", path, "--format", "xml")
	assert.Error(t, err)

	_, err = run(t, "evaluate", path, "--policy", "shadow")
	assert.Error(t, err)
}

func TestAttributesCommand(t *testing.T) {
	out, err := run(t, "attributes", "--format", "json")
	require.NoError(t, err)
	var table []attributeTable
	require.NoError(t, json.Unmarshal([]byte(out), &table))
	require.Len(t, table, engine.NumAttributes)
	assert.Equal(t, "Target_Category", table[0].Key)
	assert.Contains(t, table[0].Values, attributeValue{Value: "Chapel", Score: -1})

	out, err = run(t, "attributes", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Weaponeering (Weaponeering_Score)")
}

func TestSampleCommand_RoundTrip(t *testing.T) {
	csvPath := writeCSV(t, []map[string]string{
		engageScenario(),
		with(engageScenario(), "Terrain_Type", "Urban Center"),
	}, nil)

	out, err := run(t, "sample", "--dataset", csvPath, "--seed", "7", "--count", "3")
	require.NoError(t, err)
	var rows []map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Len(t, r, engine.NumAttributes)
	}

	again, err := run(t, "sample", "--dataset", csvPath, "--seed", "7", "--count", "3")
	require.NoError(t, err)
	assert.Equal(t, out, again, "same seed draws the same scenarios")

	_, err = run(t, "evaluate", writeFile(t, "sampled.yaml", []byte(out)), "--format", "text")
	assert.NoError(t, err)

	_, err = run(t, "sample", "--dataset", csvPath, "--seed", "7", "--count", "2", "--synthesize")
	assert.NoError(t, err)
}

func TestSampleCommand_NoDataset(t *testing.T) {
	_, err := run(t, "sample")
	assert.ErrorContains(t, err, "no dataset")
}

func TestMappingsCommand(t *testing.T) {
	clean := writeCSV(t, []map[string]string{engageScenario()}, nil)
	out, err := run(t, "mappings", "--csv", clean)
	require.NoError(t, err)
	assert.Contains(t, out, "matches")

	drifted := writeCSV(t, []map[string]string{engageScenario()}, map[string]int{"Terrain_Type": 2})
	out, err = run(t, "mappings", "--csv", drifted)
	require.Error(t, err)
	assert.Contains(t, out, `Terrain_Type "Open Field": derived 2, score table 4`)
}

func TestBuildArbiter_NoClassifier(t *testing.T) {
	cfg := config.Default()
	arbiter, closeFn, err := buildArbiter(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	assert.Nil(t, arbiter.Classifier())
	assert.Equal(t, engine.DefaultThresholdConfig(), arbiter.Thresholds())
}

func TestBuildArbiter_InvalidSchemaFile(t *testing.T) {
	cfg := config.Default()
	cfg.Classifier.Endpoint = "127.0.0.1:1"
	cfg.Classifier.SchemaPath = writeFile(t, "schema.yaml", []byte("model: rf\ncolumns: []\n"))
	_, _, err := buildArbiter(context.Background(), cfg, zap.NewNop())
	var mismatch *engine.SchemaMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestBuildStorage(t *testing.T) {
	writer, reader, closeFn := buildStorage(config.StorageConfig{}, zap.NewNop())
	assert.IsType(t, &storage.LogWriter{}, writer)
	assert.Nil(t, reader)
	closeFn()

	path := filepath.Join(t.TempDir(), "decisions.db")
	writer, reader, closeFn = buildStorage(config.StorageConfig{SQLitePath: path}, zap.NewNop())
	defer closeFn()
	assert.IsType(t, &storage.SQLiteStore{}, writer)
	assert.NotNil(t, reader)
}

// pagedPolicies serves ListProjects one project per page.
type pagedPolicies struct {
	projects []*store.Project
	configs  map[string]string
}

func (p *pagedPolicies) ListProjects(_ context.Context, params store.ListProjectsParams) ([]*store.Project, int, error) {
	if params.Offset >= len(p.projects) {
		return nil, len(p.projects), nil
	}
	return p.projects[params.Offset : params.Offset+1], len(p.projects), nil
}

func (p *pagedPolicies) GetPolicy(_ context.Context, projectID string) (*store.Policy, error) {
	raw, ok := p.configs[projectID]
	if !ok {
		return nil, nil
	}
	return &store.Policy{ProjectID: projectID, DecisionConfig: json.RawMessage(raw)}, nil
}

func TestConflictingPolicies(t *testing.T) {
	st := &pagedPolicies{
		projects: []*store.Project{{ID: "arm-a"}, {ID: "arm-b"}, {ID: "arm-c"}, {ID: "arm-d"}, {ID: "arm-e"}},
		configs: map[string]string{
			"arm-a": `{}`,
			"arm-b": `{"do_not_know_threshold": 20}`,
			"arm-c": `{"ask_authorization_threshold": 16}`,
			"arm-d": `not json`,
		},
	}

	ids, err := conflictingPolicies(context.Background(), st, engine.DefaultThresholdConfig())
	require.NoError(t, err)
	assert.Empty(t, ids)

	reloaded := engine.ThresholdConfig{Engage: 45, AskAuthorization: 18, DoNotKnow: 17}
	ids, err = conflictingPolicies(context.Background(), st, reloaded)
	require.NoError(t, err)
	assert.Equal(t, []string{"arm-b", "arm-c"}, ids)
}
