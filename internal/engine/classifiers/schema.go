package classifiers

import (
	"fmt"
	"os"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"gopkg.in/yaml.v3"
)

// Schema describes the trained model: its name and the exact feature column
// order it was fit on.
type Schema struct {
	Model   string   `yaml:"model" json:"model"`
	Columns []string `yaml:"columns" json:"columns"`
}

// DefaultSchema is the score-table feature order under the name "default".
func DefaultSchema() *Schema {
	return &Schema{Model: "default", Columns: engine.FeatureColumns()}
}

// LoadSchema reads a YAML schema file. An empty path yields DefaultSchema.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier schema: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes YAML schema bytes.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse classifier schema: %w", err)
	}
	if s.Model == "" {
		s.Model = "default"
	}
	if len(s.Columns) == 0 {
		return nil, &engine.SchemaMismatchError{Reason: "schema file lists no columns"}
	}
	return &s, nil
}

// NewAdapter builds the engine adapter for model over this schema.
func (s *Schema) NewAdapter(model engine.Classifier) (*engine.ClassifierAdapter, error) {
	return engine.NewClassifierAdapter(model, s.Columns)
}
