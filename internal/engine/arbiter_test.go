package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArbiter(t *testing.T, model Classifier) *Arbiter {
	t.Helper()
	cfg := ArbiterConfig{Thresholds: DefaultThresholdConfig()}
	if model != nil {
		adapter, err := NewClassifierAdapter(model, FeatureColumns())
		require.NoError(t, err)
		cfg.Classifier = adapter
	}
	a, err := NewArbiter(cfg)
	require.NoError(t, err)
	return a
}

func TestArbiter_ThresholdEngage(t *testing.T) {
	a := newArbiter(t, nil)
	res, err := a.Decide(context.Background(), engageScenario(), PolicyThreshold)
	require.NoError(t, err)
	assert.Equal(t, DecisionEngage, res.Decision)
	assert.Equal(t, engageTotal, res.Scored.Total)
	assert.False(t, res.Override.Matched)
	assert.Equal(t, "Total_Score=48 >= 30", res.Reason)
	assert.False(t, res.ClassifierConsulted)
	assert.Nil(t, res.ClassifierLabel)
	assert.Len(t, res.Percentages, NumAttributes)
}

func TestArbiter_ChapelOverride(t *testing.T) {
	model := &stubClassifier{name: "rf", code: ClassEngage}
	a := newArbiter(t, model)
	raw := with(engageScenario(), "Target_Category", "Chapel", "Terrain_Type", "Urban Center")

	for _, p := range []Policy{PolicyThreshold, PolicyClassifier} {
		res, err := a.Decide(context.Background(), raw, p)
		require.NoError(t, err)
		assert.Equal(t, DecisionDoNotEngage, res.Decision)
		assert.Equal(t, "protected_category", res.Override.Rule)
		assert.Contains(t, res.Reason, "Chapel")
		assert.False(t, res.ClassifierConsulted)
	}
	assert.Zero(t, model.calls.Load(), "override must short-circuit the classifier")
}

func TestArbiter_ThresholdBands(t *testing.T) {
	a := newArbiter(t, nil)
	tests := []struct {
		kv   []string
		want Decision
	}{
		// 48 - 16 (AI percentages) - 2 (time) - 1 (damage) = 29
		{[]string{"AI_Distinction (%)", "5", "AI_Proportionality (%)", "5", "Time_Sensitivity", "Normal", "Damage_Assessment", "Low"}, DecisionAskAuthorization},
		// 48 - 16 - 14 (human percentages) = 18
		{[]string{"AI_Distinction (%)", "5", "AI_Proportionality (%)", "5", "Human_Distinction (%)", "30", "Human_Proportionality (%)", "30"}, DecisionDoNotKnow},
		// 18 - 2 (time) - 2 (political) = 14
		{[]string{"AI_Distinction (%)", "5", "AI_Proportionality (%)", "5", "Human_Distinction (%)", "30", "Human_Proportionality (%)", "30", "Time_Sensitivity", "Normal", "Politically_Sensitive", "Very_High"}, DecisionDoNotEngage},
	}
	for _, tt := range tests {
		res, err := a.Decide(context.Background(), with(engageScenario(), tt.kv...), PolicyThreshold)
		require.NoError(t, err)
		assert.Equal(t, tt.want, res.Decision, "total=%d", res.Scored.Total)
		assert.Equal(t, tt.want, DefaultThresholdConfig().Decide(res.Scored.Total))
	}
}

func TestArbiter_PerCallThresholds(t *testing.T) {
	a := newArbiter(t, nil)
	strict := ThresholdConfig{Engage: 50, AskAuthorization: 40, DoNotKnow: 20}
	res, err := a.DecideWith(context.Background(), engageScenario(), PolicyThreshold, Options{Thresholds: &strict})
	require.NoError(t, err)
	assert.Equal(t, DecisionAskAuthorization, res.Decision)
	assert.Equal(t, strict, res.Thresholds)

	bad := ThresholdConfig{Engage: 1, AskAuthorization: 2, DoNotKnow: 3}
	_, err = a.DecideWith(context.Background(), engageScenario(), PolicyThreshold, Options{Thresholds: &bad})
	assert.Error(t, err)
}

func TestArbiter_SetThresholds(t *testing.T) {
	a := newArbiter(t, nil)
	require.NoError(t, a.SetThresholds(ThresholdConfig{Engage: 60, AskAuthorization: 40, DoNotKnow: 20}))
	res, err := a.Decide(context.Background(), engageScenario(), PolicyThreshold)
	require.NoError(t, err)
	assert.Equal(t, DecisionAskAuthorization, res.Decision)

	assert.Error(t, a.SetThresholds(ThresholdConfig{Engage: 1, AskAuthorization: 2}))
	assert.Equal(t, 60.0, a.Thresholds().Engage)
}

func TestArbiter_ClassifierPolicy(t *testing.T) {
	model := &stubClassifier{name: "rf-v1", code: ClassDoNotKnow}
	a := newArbiter(t, model)
	res, err := a.Decide(context.Background(), engageScenario(), PolicyClassifier)
	require.NoError(t, err)
	assert.Equal(t, DecisionDoNotKnow, res.Decision)
	assert.True(t, res.ClassifierConsulted)
	assert.True(t, res.PredictionAvailable)
	require.NotNil(t, res.ClassifierLabel)
	assert.Equal(t, "Do Not Know", *res.ClassifierLabel)
	require.NotNil(t, res.ClassifierCode)
	assert.Equal(t, 2, *res.ClassifierCode)
	assert.Equal(t, "classifier rf-v1 predicted Do Not Know (class 2)", res.Reason)
	assert.Equal(t, "rf-v1", res.ClassifierModel)
}

func TestArbiter_ClassifierUnavailable(t *testing.T) {
	a := newArbiter(t, &stubClassifier{name: "rf", err: errors.New("connection refused")})
	res, err := a.Decide(context.Background(), engageScenario(), PolicyClassifier)
	require.NoError(t, err, "a model outage must not fail the evaluation")
	assert.Equal(t, DecisionDoNotKnow, res.Decision)
	assert.True(t, strings.HasPrefix(res.Reason, PredictionUnavailablePrefix), res.Reason)
	assert.Contains(t, res.Reason, "connection refused")
	assert.False(t, res.PredictionAvailable)
	assert.Nil(t, res.ClassifierLabel)
}

func TestArbiter_ClassifierMissing(t *testing.T) {
	a := newArbiter(t, nil)
	res, err := a.Decide(context.Background(), engageScenario(), PolicyClassifier)
	require.NoError(t, err)
	assert.Equal(t, DecisionDoNotKnow, res.Decision)
	assert.Equal(t, PredictionUnavailablePrefix+": no classifier configured", res.Reason)
}

func TestArbiter_AdvisoryLabel(t *testing.T) {
	model := &stubClassifier{name: "rf", code: ClassDoNotEngage}
	a := newArbiter(t, model)

	res, err := a.DecideWith(context.Background(), engageScenario(), PolicyThreshold, Options{Advisory: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionEngage, res.Decision, "advisory label never changes the decision")
	require.NotNil(t, res.ClassifierLabel)
	assert.Equal(t, "Do Not Engage", *res.ClassifierLabel)

	res, err = a.Decide(context.Background(), engageScenario(), PolicyThreshold)
	require.NoError(t, err)
	assert.Nil(t, res.ClassifierLabel)
	assert.Equal(t, int32(1), model.calls.Load())
}

func TestArbiter_AdvisoryFailureKeepsThresholdReason(t *testing.T) {
	a := newArbiter(t, &stubClassifier{name: "rf", err: errors.New("timeout")})
	res, err := a.DecideWith(context.Background(), engageScenario(), PolicyThreshold, Options{Advisory: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionEngage, res.Decision)
	assert.Equal(t, "Total_Score=48 >= 30", res.Reason)
	assert.True(t, res.ClassifierConsulted)
	assert.False(t, res.PredictionAvailable)
}

func TestArbiter_InvalidInput(t *testing.T) {
	a := newArbiter(t, nil)
	_, err := a.Decide(context.Background(), with(engageScenario(), "Terrain_Type", "Moon"), PolicyThreshold)
	var unmapped *UnmappedValueError
	assert.True(t, errors.As(err, &unmapped))

	_, err = a.Decide(context.Background(), engageScenario(), PolicyUnspecified)
	assert.Error(t, err)
}

func TestArbiter_Idempotent(t *testing.T) {
	a := newArbiter(t, nil)
	first, err := a.Decide(context.Background(), engageScenario(), PolicyThreshold)
	require.NoError(t, err)
	second, err := a.Decide(context.Background(), engageScenario(), PolicyThreshold)
	require.NoError(t, err)
	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.Scored, second.Scored)
	assert.Equal(t, first.Reason, second.Reason)
	assert.Equal(t, first.Percentages, second.Percentages)
}

func TestNewArbiter_RejectsBadThresholds(t *testing.T) {
	_, err := NewArbiter(ArbiterConfig{Thresholds: ThresholdConfig{Engage: 1, AskAuthorization: 5}})
	assert.Error(t, err)
}
