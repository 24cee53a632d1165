package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request schemas are generated from the attribute set. They check body
// shape only; value membership is left to the score table so that errors
// can name the attribute and value.

var (
	schemaOnce     sync.Once
	evaluateSchema *jsonschema.Schema
	batchSchema    *jsonschema.Schema
	schemaErr      error
)

func scenarioSchemaDef() map[string]any {
	props := make(map[string]any, engine.NumAttributes)
	for _, a := range engine.Attributes() {
		props[a.Key()] = map[string]any{
			"type":        []any{"string", "number"},
			"description": a.ScoreKey(),
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": map[string]any{"type": []any{"string", "number"}},
	}
}

func feedbackSchemaDef() map[string]any {
	labels := make([]any, 0, 4)
	for _, d := range []engine.Decision{
		engine.DecisionDoNotEngage,
		engine.DecisionAskAuthorization,
		engine.DecisionDoNotKnow,
		engine.DecisionEngage,
	} {
		labels = append(labels, d.String())
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{
			"participant_id":        map[string]any{"type": "string"},
			"session_id":            map[string]any{"type": "string"},
			"scenario_index":        map[string]any{"type": "integer", "minimum": 0},
			"participant_decision":  map[string]any{"enum": labels},
			"decision_time_seconds": map[string]any{"type": "number", "minimum": 0},
			"confirmation_feedback": map[string]any{"type": "string"},
			"additional_feedback":   map[string]any{"type": "string"},
		},
		"additionalProperties": false,
	}
}

func compileSchema(url string, def map[string]any) (*jsonschema.Schema, error) {
	// The compiler wants a plain decoded JSON value.
	b, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var parsed any
	if err := json.Unmarshal(b, &parsed); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	return c.Compile(url)
}

func loadSchemas() error {
	schemaOnce.Do(func() {
		evaluateSchema, schemaErr = compileSchema("schema://evaluate.json", map[string]any{
			"type":       "object",
			"required":   []any{"scenario"},
			"properties": map[string]any{
				"scenario": scenarioSchemaDef(),
				"feedback": feedbackSchemaDef(),
			},
			"additionalProperties": false,
		})
		if schemaErr != nil {
			return
		}
		batchSchema, schemaErr = compileSchema("schema://evaluate_batch.json", map[string]any{
			"type":       "object",
			"required":   []any{"scenarios"},
			"properties": map[string]any{
				"scenarios": map[string]any{
					"type":     "array",
					"minItems": 1,
					"maxItems": maxBatchSize,
					"items":    scenarioSchemaDef(),
				},
			},
			"additionalProperties": false,
		})
	})
	return schemaErr
}

var (
	errBodyTooLarge = errors.New("request body too large")
	errInvalidJSON  = errors.New("Invalid JSON body") //nolint:staticcheck // shown to clients as-is
)

// decodeValidated reads the body, validates it against schema and decodes it
// into v. Returned errors are safe to show to the client.
func decodeValidated(w http.ResponseWriter, r *http.Request, schema func() *jsonschema.Schema, v any) error {
	if err := loadSchemas(); err != nil {
		return fmt.Errorf("request schema unavailable: %w", err)
	}
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errBodyTooLarge
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return errInvalidJSON
	}
	if err := schema().Validate(parsed); err != nil {
		return fmt.Errorf("request does not match schema: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errInvalidJSON
	}
	return nil
}

// scenarioStrings converts decoded scenario values to the raw string form
// the score table is keyed by.
func scenarioStrings(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
