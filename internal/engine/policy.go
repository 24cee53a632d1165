package engine

// ThresholdConfig holds the Total_Score boundaries of the threshold policy.
type ThresholdConfig struct {
	Engage           float64 `yaml:"engage" json:"engage"`                       // total >= this → Engage
	AskAuthorization float64 `yaml:"ask_authorization" json:"ask_authorization"` // total >= this → Ask Authorization
	DoNotKnow        float64 `yaml:"do_not_know" json:"do_not_know"`             // total >= this → Do Not Know, else Do Not Engage
}

// DefaultThresholdConfig returns the standard boundaries 30 / 22.5 / 15.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		Engage:           30,
		AskAuthorization: 22.5,
		DoNotKnow:        15,
	}
}

// Validate checks that the boundaries are ordered. The error is a
// *ThresholdOrderError.
func (c ThresholdConfig) Validate() error {
	if c.Engage < c.AskAuthorization || c.AskAuthorization < c.DoNotKnow {
		return &ThresholdOrderError{Thresholds: c}
	}
	return nil
}

// Decide maps a total score to a decision.
//
// Bands (checked in order):
//  1. total >= Engage           → Engage
//  2. total >= AskAuthorization → Ask Authorization
//  3. total >= DoNotKnow        → Do Not Know
//  4. otherwise                 → Do Not Engage
func (c ThresholdConfig) Decide(total int) Decision {
	t := float64(total)
	switch {
	case t >= c.Engage:
		return DecisionEngage
	case t >= c.AskAuthorization:
		return DecisionAskAuthorization
	case t >= c.DoNotKnow:
		return DecisionDoNotKnow
	default:
		return DecisionDoNotEngage
	}
}

// PolicyConfig is the per-project decision configuration, loaded from the
// policies table's decision_config JSONB column. Nil fields use server
// defaults.
type PolicyConfig struct {
	EngageThreshold           *float64 `json:"engage_threshold,omitempty"`
	AskAuthorizationThreshold *float64 `json:"ask_authorization_threshold,omitempty"`
	DoNotKnowThreshold        *float64 `json:"do_not_know_threshold,omitempty"`
	AdvisoryClassifier        *bool    `json:"advisory_classifier,omitempty"` // nil = false
}

// EffectiveThresholds overlays the project's thresholds on the server default.
func (pc *PolicyConfig) EffectiveThresholds(serverDefault ThresholdConfig) ThresholdConfig {
	if pc == nil {
		return serverDefault
	}
	out := serverDefault
	if pc.EngageThreshold != nil {
		out.Engage = *pc.EngageThreshold
	}
	if pc.AskAuthorizationThreshold != nil {
		out.AskAuthorization = *pc.AskAuthorizationThreshold
	}
	if pc.DoNotKnowThreshold != nil {
		out.DoNotKnow = *pc.DoNotKnowThreshold
	}
	return out
}

// AdvisoryEnabled reports whether threshold decisions should also carry the
// classifier's label.
func (pc *PolicyConfig) AdvisoryEnabled() bool {
	if pc == nil || pc.AdvisoryClassifier == nil {
		return false
	}
	return *pc.AdvisoryClassifier
}

// Validate checks the effective thresholds against the server default.
func (pc *PolicyConfig) Validate(serverDefault ThresholdConfig) error {
	return pc.EffectiveThresholds(serverDefault).Validate()
}
