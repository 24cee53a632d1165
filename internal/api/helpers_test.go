package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/lauramurakaru/mdmp/internal/auth"
	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "msk_api_test_key_0123456789"

func engageScenario() map[string]any {
	return map[string]any{
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

func withValue(s map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	out[key] = value
	return out
}

// fixedAuth authenticates testKey as the configured project.
type fixedAuth struct {
	project *auth.ProjectContext
	err     error
}

func (f *fixedAuth) Authenticate(_ context.Context, key string) (*auth.ProjectContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	if key != testKey {
		return nil, auth.ErrInvalidAPIKey
	}
	return f.project, nil
}

// captureWriter records every decision record written.
type captureWriter struct {
	mu      sync.Mutex
	records []*storage.DecisionRecord
}

func (c *captureWriter) Write(r *storage.DecisionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func (c *captureWriter) Close() {}

func (c *captureWriter) all() []*storage.DecisionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*storage.DecisionRecord(nil), c.records...)
}

// stubModel is an in-memory classifier.
type stubModel struct {
	code        int
	err         error
	importances []float64
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Predict(context.Context, []float64) (int, error) {
	return m.code, m.err
}

func (m *stubModel) FeatureImportances(context.Context) ([]float64, error) {
	return m.importances, nil
}

type testEnv struct {
	deps    *Dependencies
	handler http.Handler
	writer  *captureWriter
	auth    *fixedAuth
}

func newTestEnv(t *testing.T, model engine.Classifier) *testEnv {
	t.Helper()
	cfg := engine.ArbiterConfig{Thresholds: engine.DefaultThresholdConfig(), Logger: zap.NewNop()}
	if model != nil {
		adapter, err := engine.NewClassifierAdapter(model, engine.FeatureColumns())
		require.NoError(t, err)
		cfg.Classifier = adapter
	}
	arb, err := engine.NewArbiter(cfg)
	require.NoError(t, err)

	env := &testEnv{
		writer: &captureWriter{},
		auth: &fixedAuth{project: &auth.ProjectContext{
			ProjectID:       "proj_test",
			Policy:          engine.PolicyThreshold,
			RecordDecisions: true,
		}},
	}
	env.deps = &Dependencies{
		Auth:         env.auth,
		Arbiter:      arb,
		Writer:       env.writer,
		BatchWorkers: 4,
		Logger:       zap.NewNop(),
	}
	env.handler = NewRouter(env.deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
