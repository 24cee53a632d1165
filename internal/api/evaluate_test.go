package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/lauramurakaru/mdmp/internal/auth"
	"github.com/lauramurakaru/mdmp/internal/dataset"
	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "GET", "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvaluate_Auth(t *testing.T) {
	env := newTestEnv(t, nil)
	body := EvaluateRequest{Scenario: engageScenario()}

	rec := env.do(t, "POST", "/v1/evaluate", body, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.auth.err = auth.ErrAuthUnavailable
	rec = env.do(t, "POST", "/v1/evaluate", body, true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEvaluate_Engage(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{
		Scenario: engageScenario(),
		Feedback: &storage.Feedback{ParticipantID: "p-1", ParticipantDecision: "Engage"},
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[EvaluateResponse](t, rec)
	assert.Equal(t, "Engage", resp.Decision)
	assert.Equal(t, "threshold", resp.Policy)
	assert.Equal(t, 48, resp.TotalScore)
	assert.Equal(t, "Total_Score=48 >= 30", resp.Reason)
	assert.Nil(t, resp.OverrideRule)
	assert.Nil(t, resp.Classifier)
	assert.Len(t, resp.Scores, engine.NumAttributes+1)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, rec.Header().Get("X-Request-ID"))

	records := env.writer.all()
	require.Len(t, records, 1)
	assert.Equal(t, resp.RequestID, records[0].RequestID)
	assert.Equal(t, "proj_test", records[0].ProjectID)
	assert.Equal(t, "p-1", records[0].ParticipantID)
	assert.True(t, records[0].Agrees())
}

func TestEvaluate_NumericPercentages(t *testing.T) {
	env := newTestEnv(t, nil)
	scenario := withValue(engageScenario(), "AI_Distinction (%)", 75)
	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{Scenario: scenario}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 48, decode[EvaluateResponse](t, rec).TotalScore)
}

func TestEvaluate_Override(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{
		Scenario: withValue(engageScenario(), "Target_Category", "Chapel"),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[EvaluateResponse](t, rec)
	assert.Equal(t, "Do Not Engage", resp.Decision)
	require.NotNil(t, resp.OverrideRule)
	assert.Equal(t, "protected_category", *resp.OverrideRule)
}

func TestEvaluate_DoesNotRecordWhenDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	env.auth.project.RecordDecisions = false
	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{Scenario: engageScenario()}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.writer.all())
}

func TestEvaluate_ValidationErrors(t *testing.T) {
	missing := engageScenario()
	delete(missing, "Weaponeering")

	tests := []struct {
		name      string
		scenario  map[string]any
		attribute string
		value     *string
	}{
		{"unmapped value", withValue(engageScenario(), "Terrain_Type", "Moon"), "Terrain_Type", strPtr("Moon")},
		{"malformed range", withValue(engageScenario(), "Civilian_Presence", "a-b"), "Civilian_Presence", strPtr("a-b")},
		{"missing attribute", missing, "Weaponeering", nil},
		{"unknown attribute", withValue(engageScenario(), "Weather", "Rain"), "Weather", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{Scenario: tt.scenario}, true)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

			resp := decode[ErrorResp](t, rec)
			assert.NotEmpty(t, resp.Detail)
			require.NotNil(t, resp.Attribute)
			assert.Equal(t, tt.attribute, *resp.Attribute)
			assert.Equal(t, tt.value, resp.Value)
			assert.Empty(t, env.writer.all())
		})
	}
}

func TestEvaluate_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"not json", "{nope"},
		{"no scenario", map[string]any{"feedback": map[string]any{}}},
		{"scenario not object", map[string]any{"scenario": []any{1, 2}}},
		{"non-scalar value", map[string]any{"scenario": withValue(engageScenario(), "Terrain_Type", []any{"x"})}},
		{"unknown top-level field", map[string]any{"scenario": engageScenario(), "policy": "classifier"}},
		{"bad participant decision", map[string]any{
			"scenario": engageScenario(),
			"feedback": map[string]any{"participant_decision": "Maybe"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(t, "POST", "/v1/evaluate", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestEvaluate_ProjectThresholds(t *testing.T) {
	env := newTestEnv(t, nil)
	engage := 50.0
	env.auth.project.Config = &engine.PolicyConfig{EngageThreshold: &engage}

	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{Scenario: engageScenario()}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[EvaluateResponse](t, rec)
	assert.Equal(t, "Ask Authorization", resp.Decision)
	assert.Equal(t, 50.0, resp.Thresholds.Engage)
	assert.Equal(t, 22.5, resp.Thresholds.AskAuthorization)
}

func TestEvaluate_ProjectThresholdsConflictWithDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	doNotKnow := 25.0
	env.auth.project.Config = &engine.PolicyConfig{DoNotKnowThreshold: &doNotKnow}

	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{Scenario: engageScenario()}, true)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Contains(t, decode[ErrorResp](t, rec).Detail, "conflicts with the server threshold defaults")
	assert.Empty(t, env.writer.all(), "rejected evaluations are not recorded")
}

func TestEvaluate_ClassifierPolicy(t *testing.T) {
	env := newTestEnv(t, &stubModel{code: 1})
	env.auth.project.Policy = engine.PolicyClassifier

	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{Scenario: engageScenario()}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[EvaluateResponse](t, rec)
	assert.Equal(t, "Ask Authorization", resp.Decision)
	require.NotNil(t, resp.Classifier)
	assert.True(t, resp.Classifier.PredictionAvailable)
	require.NotNil(t, resp.Classifier.Code)
	assert.Equal(t, 1, *resp.Classifier.Code)
}

func TestEvaluate_ClassifierUnavailable(t *testing.T) {
	env := newTestEnv(t, &stubModel{err: errors.New("model offline")})
	env.auth.project.Policy = engine.PolicyClassifier

	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{Scenario: engageScenario()}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[EvaluateResponse](t, rec)
	assert.Equal(t, "Do Not Know", resp.Decision)
	assert.Contains(t, resp.Reason, engine.PredictionUnavailablePrefix)
	require.NotNil(t, resp.Classifier)
	assert.False(t, resp.Classifier.PredictionAvailable)
	assert.Nil(t, resp.Classifier.Label)
}

func TestEvaluate_AdvisoryLabel(t *testing.T) {
	env := newTestEnv(t, &stubModel{code: 0})
	advisory := true
	env.auth.project.Config = &engine.PolicyConfig{AdvisoryClassifier: &advisory}

	rec := env.do(t, "POST", "/v1/evaluate", EvaluateRequest{Scenario: engageScenario()}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[EvaluateResponse](t, rec)
	assert.Equal(t, "Engage", resp.Decision, "advisory label never decides")
	require.NotNil(t, resp.Classifier)
	require.NotNil(t, resp.Classifier.Label)
	assert.Equal(t, "Do Not Engage", *resp.Classifier.Label)
}

func TestEvaluateBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "POST", "/v1/evaluate/batch", BatchEvaluateRequest{
		Scenarios: []map[string]any{
			engageScenario(),
			withValue(engageScenario(), "Terrain_Type", "Moon"),
			withValue(engageScenario(), "Target_Category", "Chapel"),
		},
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[BatchEvaluateResponse](t, rec)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, 0, resp.Results[0].Index)
	require.NotNil(t, resp.Results[0].Result)
	assert.Equal(t, "Engage", resp.Results[0].Result.Decision)

	assert.Nil(t, resp.Results[1].Result)
	require.NotNil(t, resp.Results[1].Error)
	assert.Equal(t, "Terrain_Type", *resp.Results[1].Error.Attribute)

	require.NotNil(t, resp.Results[2].Result)
	assert.Equal(t, "Do Not Engage", resp.Results[2].Result.Decision)

	assert.Len(t, env.writer.all(), 2, "failed items are not recorded")
}

func TestEvaluateBatch_Empty(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "POST", "/v1/evaluate/batch", BatchEvaluateRequest{Scenarios: []map[string]any{}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScore(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "POST", "/v1/score", EvaluateRequest{
		Scenario: withValue(withValue(engageScenario(), "Target_Category", "Chapel"), "Terrain_Type", "Urban Center"),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ScoreResp](t, rec)
	assert.Equal(t, -1, resp.Scores["Target_Category_Score"])
	assert.Len(t, resp.Percentages, engine.NumAttributes)
	assert.Less(t, resp.Percentages["Target_Category"], 0.0)
	assert.Empty(t, env.writer.all(), "scoring never records")
}

func TestAttributes(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "GET", "/v1/attributes", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[[]AttributeResp](t, rec)
	require.Len(t, resp, engine.NumAttributes)
	assert.Equal(t, "Target_Category", resp[0].Key)
	assert.Equal(t, "Target_Category_Score", resp[0].ScoreKey)
	assert.NotEmpty(t, resp[0].Values)
}

func TestRandomScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "GET", "/v1/scenarios/random", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ds, err := dataset.FromScenarios([]map[string]string{scenarioStrings(engageScenario())})
	require.NoError(t, err)
	env.deps.Dataset = ds

	rec = env.do(t, "GET", "/v1/scenarios/random?seed=7", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RandomScenarioResp](t, rec)
	assert.Equal(t, 1, resp.Line)
	assert.Equal(t, 48, resp.TotalScore)
	assert.Equal(t, "Artillery Unit", resp.Scenario["Target_Category"])

	rec = env.do(t, "GET", "/v1/scenarios/random?seed=-1", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModel(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, "GET", "/v1/model", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	weights := make([]float64, len(engine.FeatureColumns()))
	weights[0] = 0.4
	env = newTestEnv(t, &stubModel{importances: weights})
	rec = env.do(t, "GET", "/v1/model", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ModelResp](t, rec)
	assert.Equal(t, "stub", resp.Model)
	assert.Equal(t, engine.FeatureColumns(), resp.Columns)
	assert.Empty(t, resp.UnresolvedColumns)
	assert.Equal(t, 0.4, resp.Importances[engine.FeatureColumns()[0]])
	assert.Nil(t, resp.ImportancesError)
}

func TestScenarioStrings(t *testing.T) {
	got := scenarioStrings(map[string]any{"a": "x", "b": 75.0, "c": 12.5})
	assert.Equal(t, map[string]string{"a": "x", "b": "75", "c": "12.5"}, got)
}
