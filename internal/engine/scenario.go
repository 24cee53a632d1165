package engine

import "sort"

// Scenario is one validated set of the 18 raw attribute values.
// The zero value is not valid; build scenarios with NewScenario.
type Scenario struct {
	values           [NumAttributes]string
	civilianPresence int
}

// NewScenario validates raw against the closed attribute domains.
//
// Checks, in order:
//  1. every key is a known attribute (UnknownAttributeError)
//  2. every attribute is present (MissingAttributeError)
//  3. civilian presence parses as an integer or range (MalformedRangeError)
//  4. every value has a score-table entry (UnmappedValueError)
func NewScenario(raw map[string]string) (Scenario, error) {
	var s Scenario

	unknown := make([]string, 0)
	for k := range raw {
		if _, ok := ParseAttribute(k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Scenario{}, &UnknownAttributeError{Key: unknown[0]}
	}

	for _, a := range Attributes() {
		v, ok := raw[a.Key()]
		if !ok {
			return Scenario{}, &MissingAttributeError{Attribute: a}
		}
		s.values[a] = v
	}

	cp, err := NormalizeCivilianPresence(s.values[AttrCivilianPresence])
	if err != nil {
		return Scenario{}, err
	}
	s.civilianPresence = cp

	for _, a := range Attributes() {
		if _, err := Lookup(a, s.values[a]); err != nil {
			return Scenario{}, err
		}
	}
	return s, nil
}

// Get returns the raw value of a.
func (s Scenario) Get(a Attribute) string {
	if !a.Valid() {
		return ""
	}
	return s.values[a]
}

// CivilianPresence returns the normalized civilian presence count.
func (s Scenario) CivilianPresence() int {
	return s.civilianPresence
}

// Raw returns a copy of the scenario keyed by dataset column name.
func (s Scenario) Raw() map[string]string {
	out := make(map[string]string, NumAttributes)
	for _, a := range Attributes() {
		out[a.Key()] = s.values[a]
	}
	return out
}
