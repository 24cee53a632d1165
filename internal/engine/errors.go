package engine

import (
	"fmt"
	"strings"
)

// ThresholdOrderError reports boundaries that are not ordered
// engage >= ask_authorization >= do_not_know. For a project it usually means
// a partial override no longer fits the server defaults.
type ThresholdOrderError struct {
	Thresholds ThresholdConfig
}

func (e *ThresholdOrderError) Error() string {
	return fmt.Sprintf("thresholds must satisfy engage >= ask_authorization >= do_not_know, got %.2f / %.2f / %.2f",
		e.Thresholds.Engage, e.Thresholds.AskAuthorization, e.Thresholds.DoNotKnow)
}

// UnmappedValueError reports a raw value with no entry in the score table.
type UnmappedValueError struct {
	Attribute Attribute
	Value     string
}

func (e *UnmappedValueError) Error() string {
	return fmt.Sprintf("unmapped value %q for attribute %s", e.Value, e.Attribute.Key())
}

// MalformedRangeError reports a civilian presence value that is neither an
// integer nor an "A-B" range.
type MalformedRangeError struct {
	Value  string
	Reason string
}

func (e *MalformedRangeError) Error() string {
	return fmt.Sprintf("malformed %s value %q: %s", AttrCivilianPresence.Key(), e.Value, e.Reason)
}

// MissingAttributeError reports a scenario without one of the required keys.
type MissingAttributeError struct {
	Attribute Attribute
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("missing attribute %s", e.Attribute.Key())
}

// UnknownAttributeError reports a scenario key outside the attribute set.
type UnknownAttributeError struct {
	Key string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("unknown attribute %q", e.Key)
}

// SchemaMismatchError reports a classifier schema that cannot be aligned
// with the score-table feature columns. It is a configuration error.
type SchemaMismatchError struct {
	Reason  string
	Columns []string
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Columns) == 0 {
		return "classifier schema mismatch: " + e.Reason
	}
	return fmt.Sprintf("classifier schema mismatch: %s [%s]", e.Reason, strings.Join(e.Columns, ", "))
}
