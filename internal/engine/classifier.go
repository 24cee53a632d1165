package engine

import (
	"context"
	"fmt"
)

// Classifier is the externally trained model. Implementations must respect
// context deadlines.
type Classifier interface {
	// Name identifies the model for logs and records.
	Name() string

	// Predict returns the class code for a feature vector already aligned
	// to the training schema.
	Predict(ctx context.Context, features []float64) (int, error)

	// FeatureImportances returns one weight per schema column, in schema order.
	FeatureImportances(ctx context.Context) ([]float64, error)
}

// Prediction is a classifier outcome mapped onto the decision set.
type Prediction struct {
	Code     int
	Decision Decision
	Model    string
}

// ClassifierAdapter aligns scored scenarios to the column order the model was
// trained on. Immutable after construction.
type ClassifierAdapter struct {
	model Classifier
	// schema is the trained column order; index[i] is the position of
	// schema[i] in FeatureColumns(), or -1 when it is padded with zero.
	schema     []string
	index      []int
	unresolved []string
}

// NewClassifierAdapter validates schema against the score-table feature
// columns. Columns unknown to the score table are padded with zero; a schema
// that is empty, has duplicates, or shares no column with the score table
// cannot be aligned and yields a *SchemaMismatchError.
func NewClassifierAdapter(model Classifier, schema []string) (*ClassifierAdapter, error) {
	if model == nil {
		return nil, fmt.Errorf("NewClassifierAdapter: nil classifier")
	}
	if len(schema) == 0 {
		return nil, &SchemaMismatchError{Reason: "empty schema"}
	}

	known := make(map[string]int, NumAttributes+1)
	for i, c := range FeatureColumns() {
		known[c] = i
	}

	a := &ClassifierAdapter{
		model:  model,
		schema: make([]string, len(schema)),
		index:  make([]int, len(schema)),
	}
	copy(a.schema, schema)

	seen := make(map[string]bool, len(schema))
	var dups []string
	resolved := 0
	for i, col := range schema {
		if seen[col] {
			dups = append(dups, col)
		}
		seen[col] = true
		pos, ok := known[col]
		if !ok {
			a.index[i] = -1
			a.unresolved = append(a.unresolved, col)
			continue
		}
		a.index[i] = pos
		resolved++
	}
	if len(dups) > 0 {
		return nil, &SchemaMismatchError{Reason: "duplicate columns", Columns: dups}
	}
	if resolved == 0 {
		return nil, &SchemaMismatchError{Reason: "no schema column matches a score-table feature", Columns: a.schema}
	}
	return a, nil
}

// Model returns the wrapped classifier's name.
func (a *ClassifierAdapter) Model() string {
	return a.model.Name()
}

// Schema returns a copy of the trained column order.
func (a *ClassifierAdapter) Schema() []string {
	out := make([]string, len(a.schema))
	copy(out, a.schema)
	return out
}

// UnresolvedColumns lists schema columns that are always sent as zero.
func (a *ClassifierAdapter) UnresolvedColumns() []string {
	return append([]string(nil), a.unresolved...)
}

// Align reindexes the scored scenario into schema order, zero-filling
// columns the score table does not produce.
func (a *ClassifierAdapter) Align(sc *ScoredScenario) []float64 {
	features := make([]float64, NumAttributes+1)
	for i, v := range sc.Scores {
		features[i] = float64(v)
	}
	features[NumAttributes] = float64(sc.Total)

	out := make([]float64, len(a.schema))
	for i, pos := range a.index {
		if pos >= 0 {
			out[i] = features[pos]
		}
	}
	return out
}

// Predict aligns sc and asks the model for a class.
func (a *ClassifierAdapter) Predict(ctx context.Context, sc *ScoredScenario) (Prediction, error) {
	code, err := a.model.Predict(ctx, a.Align(sc))
	if err != nil {
		return Prediction{}, fmt.Errorf("classifier %s: %w", a.model.Name(), err)
	}
	d, ok := DecisionFromClass(code)
	if !ok {
		return Prediction{}, fmt.Errorf("classifier %s: unknown class code %d", a.model.Name(), code)
	}
	return Prediction{Code: code, Decision: d, Model: a.model.Name()}, nil
}

// FeatureImportances returns the model's importances keyed by schema column.
// A vector whose length differs from the schema is a *SchemaMismatchError.
func (a *ClassifierAdapter) FeatureImportances(ctx context.Context) (map[string]float64, error) {
	weights, err := a.model.FeatureImportances(ctx)
	if err != nil {
		return nil, fmt.Errorf("classifier %s: %w", a.model.Name(), err)
	}
	if len(weights) != len(a.schema) {
		return nil, &SchemaMismatchError{
			Reason: fmt.Sprintf("model reports %d feature importances for %d schema columns", len(weights), len(a.schema)),
		}
	}
	out := make(map[string]float64, len(weights))
	for i, w := range weights {
		out[a.schema[i]] = w
	}
	return out, nil
}

// Verify checks the loaded model against the schema. Call once at startup;
// a mismatch is fatal configuration drift.
func (a *ClassifierAdapter) Verify(ctx context.Context) error {
	_, err := a.FeatureImportances(ctx)
	return err
}
