package engine

import (
	"strconv"
	"strings"
)

// NormalizeCivilianPresence converts a civilian presence value to the number
// compared against rule thresholds. A bare integer is taken as is; an "A-B"
// range normalizes to its lower bound A, so "50-99" is 50 and "100-200" is 100.
func NormalizeCivilianPresence(raw string) (int, error) {
	if raw == "" {
		return 0, &MalformedRangeError{Value: raw, Reason: "empty"}
	}
	lo, hi, isRange := strings.Cut(raw, "-")
	if !isRange {
		n, err := parseCount(raw)
		if err != nil {
			return 0, &MalformedRangeError{Value: raw, Reason: "not an integer"}
		}
		return n, nil
	}
	a, err := parseCount(lo)
	if err != nil {
		return 0, &MalformedRangeError{Value: raw, Reason: "lower bound is not an integer"}
	}
	b, err := parseCount(hi)
	if err != nil {
		return 0, &MalformedRangeError{Value: raw, Reason: "upper bound is not an integer"}
	}
	if a > b {
		return 0, &MalformedRangeError{Value: raw, Reason: "lower bound exceeds upper bound"}
	}
	return a, nil
}

// parseCount accepts only plain non-negative decimal integers.
func parseCount(s string) (int, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s)
}
