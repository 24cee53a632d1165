package engine

import "fmt"

// Decision is the terminal output of an evaluation.
type Decision int

const (
	DecisionUnspecified Decision = iota
	DecisionEngage
	DecisionDoNotEngage
	DecisionAskAuthorization
	DecisionDoNotKnow
)

// String returns the human label used on the wire and in storage.
func (d Decision) String() string {
	switch d {
	case DecisionEngage:
		return "Engage"
	case DecisionDoNotEngage:
		return "Do Not Engage"
	case DecisionAskAuthorization:
		return "Ask Authorization"
	case DecisionDoNotKnow:
		return "Do Not Know"
	default:
		return "Unspecified"
	}
}

// ParseDecision resolves a human label back to a Decision.
func ParseDecision(s string) (Decision, error) {
	for _, d := range []Decision{DecisionEngage, DecisionDoNotEngage, DecisionAskAuthorization, DecisionDoNotKnow} {
		if d.String() == s {
			return d, nil
		}
	}
	return DecisionUnspecified, fmt.Errorf("unknown decision %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decision) UnmarshalText(b []byte) error {
	v, err := ParseDecision(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Classifier class codes, as emitted by the trained model.
const (
	ClassDoNotEngage      = 0
	ClassAskAuthorization = 1
	ClassDoNotKnow        = 2
	ClassEngage           = 3
)

// DecisionFromClass maps a classifier class code to a Decision.
func DecisionFromClass(code int) (Decision, bool) {
	switch code {
	case ClassDoNotEngage:
		return DecisionDoNotEngage, true
	case ClassAskAuthorization:
		return DecisionAskAuthorization, true
	case ClassDoNotKnow:
		return DecisionDoNotKnow, true
	case ClassEngage:
		return DecisionEngage, true
	default:
		return DecisionUnspecified, false
	}
}

// Policy selects the fallback used when no override rule matches.
type Policy int

const (
	PolicyUnspecified Policy = iota
	PolicyThreshold          // threshold
	PolicyClassifier         // classifier
)

// String returns the lowercase policy name (also the project mode column).
func (p Policy) String() string {
	switch p {
	case PolicyThreshold:
		return "threshold"
	case PolicyClassifier:
		return "classifier"
	default:
		return "unspecified"
	}
}

// ParsePolicy resolves a project mode string.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "threshold":
		return PolicyThreshold, nil
	case "classifier":
		return PolicyClassifier, nil
	default:
		return PolicyUnspecified, fmt.Errorf("unknown policy %q", s)
	}
}
