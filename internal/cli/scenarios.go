package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// readScenarios reads one scenario mapping or a list of them from a YAML or
// JSON file. "-" reads stdin.
func readScenarios(path string, stdin io.Reader) ([]map[string]string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}

	switch v := doc.(type) {
	case map[string]any:
		s, err := scenarioStrings(v)
		if err != nil {
			return nil, err
		}
		return []map[string]string{s}, nil
	case []any:
		out := make([]map[string]string, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("scenario %d: expected a mapping", i)
			}
			s, err := scenarioStrings(m)
			if err != nil {
				return nil, fmt.Errorf("scenario %d: %w", i, err)
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no scenarios in %s", path)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected a scenario mapping or a list of them", path)
	}
}

func scenarioStrings(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("value for %q must be a string or number, got %T", k, v)
		}
	}
	return out, nil
}
