package engine

import (
	"context"
	"sync/atomic"
)

// engageScenario returns the raw values of a scenario that no override rule
// matches and whose total (48) clears every default threshold.
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

const engageTotal = 48

// with returns a copy of raw with the given key/value pairs overridden.
func with(raw map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

func mustScenario(raw map[string]string) Scenario {
	s, err := NewScenario(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// stubClassifier is an in-memory Classifier.
type stubClassifier struct {
	name        string
	code        int
	err         error
	importances []float64
	calls       atomic.Int32
	lastInput   []float64
}

func (c *stubClassifier) Name() string { return c.name }

func (c *stubClassifier) Predict(_ context.Context, features []float64) (int, error) {
	c.calls.Add(1)
	c.lastInput = features
	if c.err != nil {
		return 0, c.err
	}
	return c.code, nil
}

func (c *stubClassifier) FeatureImportances(context.Context) ([]float64, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.importances, nil
}

func uniformImportances(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}
