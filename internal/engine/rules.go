package engine

import (
	"fmt"
	"slices"
)

// NoOverrideReason is the reason reported when no rule matches.
const NoOverrideReason = "no override"

// Rule is a single override rule. Match reports whether the rule applies and,
// if so, a reason citing the field values that triggered it.
type Rule struct {
	Name     string
	Decision Decision
	Match    func(s Scenario, total int) (bool, string)
}

// Override is the outcome of rule evaluation.
type Override struct {
	Matched  bool
	Rule     string
	Decision Decision
	Reason   string
}

// RuleEngine evaluates an ordered rule list; first match wins.
type RuleEngine struct {
	rules []Rule
}

// NewRuleEngine builds an engine over rules in priority order. Override rules
// only restrict or escalate, so a rule that decides Engage is rejected.
func NewRuleEngine(rules []Rule) (*RuleEngine, error) {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Match == nil {
			return nil, fmt.Errorf("NewRuleEngine: rule %d (%s) has no predicate", i, r.Name)
		}
		if r.Decision == DecisionEngage || r.Decision == DecisionUnspecified {
			return nil, fmt.Errorf("NewRuleEngine: rule %s cannot decide %s", r.Name, r.Decision)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("NewRuleEngine: duplicate rule %s", r.Name)
		}
		seen[r.Name] = true
	}
	return &RuleEngine{rules: slices.Clone(rules)}, nil
}

// Rules returns the rule names in evaluation order.
func (e *RuleEngine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

// Evaluate returns the first matching rule's decision, or an unmatched
// Override with NoOverrideReason.
func (e *RuleEngine) Evaluate(s Scenario, total int) Override {
	for _, r := range e.rules {
		if ok, reason := r.Match(s, total); ok {
			return Override{
				Matched:  true,
				Rule:     r.Name,
				Decision: r.Decision,
				Reason:   reason,
			}
		}
	}
	return Override{Reason: NoOverrideReason}
}

var (
	protectedCategories = []string{"Chapel", "Medical Installation", "Medical Vehicle"}
	protectedTerrain    = []string{"Urban Center", "Residential Area"}
	priorityTargets     = []string{"High-Value Target", "Battalion HQ", "Battlegroup HQ", "Brigade HQ", "Division HQ"}
	navalTargets        = []string{"Ship Maintenance Facility", "Naval Base", "Frigate"}
	specialWeapons      = []string{"Incendiary Weapon", "Thermobaric Munition", "White Phosphorus Bomb"}
	ambiguousLegal      = []string{"It depends", "Questionable"}
	mineExcludedTargets = []string{"Fighter Aircraft", "Frigate", "Ship Maintenance Facility", "Naval Base"}
)

// DefaultRules returns the canonical override rules, highest priority first:
// protected-target and high-risk denials, then authorization escalations,
// then the inappropriate-weapon advisory.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "protected_category",
			Decision: DecisionDoNotEngage,
			Match: func(s Scenario, _ int) (bool, string) {
				tc := s.Get(AttrTargetCategory)
				if !slices.Contains(protectedCategories, tc) {
					return false, ""
				}
				return true, fmt.Sprintf("protected category: Target_Category=%q", tc)
			},
		},
		{
			Name:     "protected_terrain",
			Decision: DecisionDoNotEngage,
			Match: func(s Scenario, _ int) (bool, string) {
				terrain, tc := s.Get(AttrTerrainType), s.Get(AttrTargetCategory)
				if !slices.Contains(protectedTerrain, terrain) || slices.Contains(priorityTargets, tc) {
					return false, ""
				}
				return true, fmt.Sprintf("non-priority target in protected terrain: Target_Category=%q, Terrain_Type=%q", tc, terrain)
			},
		},
		{
			Name:     "torpedo_target_mismatch",
			Decision: DecisionDoNotEngage,
			Match: func(s Scenario, _ int) (bool, string) {
				tc := s.Get(AttrTargetCategory)
				if s.Get(AttrWeaponeering) != "Torpedo" || slices.Contains(navalTargets, tc) {
					return false, ""
				}
				return true, fmt.Sprintf("weapon/target mismatch: Weaponeering=\"Torpedo\", Target_Category=%q", tc)
			},
		},
		{
			Name:     "ethical_override",
			Decision: DecisionDoNotEngage,
			Match: func(s Scenario, total int) (bool, string) {
				if s.Get(AttrEthicalConcerns) != "Immoral" || total < 30 {
					return false, ""
				}
				return true, fmt.Sprintf("ethical override of high score: Ethical_Concerns=\"Immoral\", Total_Score=%d", total)
			},
		},
		{
			Name:     "excessive_civilian_presence",
			Decision: DecisionDoNotEngage,
			Match: func(s Scenario, _ int) (bool, string) {
				if s.CivilianPresence() < 100 {
					return false, ""
				}
				return true, fmt.Sprintf("excessive civilian presence: Civilian_Presence=%q", s.Get(AttrCivilianPresence))
			},
		},
		{
			Name:     "collateral_with_civilians",
			Decision: DecisionDoNotEngage,
			Match: func(s Scenario, _ int) (bool, string) {
				if s.Get(AttrCollateralDamagePotential) != "Very_High" || s.CivilianPresence() < 50 {
					return false, ""
				}
				return true, fmt.Sprintf("very high collateral damage potential with significant civilian presence: Collateral_Damage_Potential=\"Very_High\", Civilian_Presence=%q",
					s.Get(AttrCivilianPresence))
			},
		},
		{
			Name:     "friendly_fire_and_collateral",
			Decision: DecisionDoNotEngage,
			Match: func(s Scenario, _ int) (bool, string) {
				if s.Get(AttrFriendlyFire) != "Very_High" || s.Get(AttrCollateralDamagePotential) != "Very_High" {
					return false, ""
				}
				return true, "multiple high-risk factors: Friendly_Fire=\"Very_High\", Collateral_Damage_Potential=\"Very_High\""
			},
		},
		{
			Name:     "special_weapon_near_civilians",
			Decision: DecisionAskAuthorization,
			Match: func(s Scenario, _ int) (bool, string) {
				w := s.Get(AttrWeaponeering)
				if s.CivilianPresence() <= 30 || !slices.Contains(specialWeapons, w) {
					return false, ""
				}
				return true, fmt.Sprintf("special weapon with civilian presence above 30: Weaponeering=%q, Civilian_Presence=%q",
					w, s.Get(AttrCivilianPresence))
			},
		},
		{
			Name:     "legal_or_ethical_review",
			Decision: DecisionAskAuthorization,
			Match: func(s Scenario, _ int) (bool, string) {
				if legal := s.Get(AttrLegalAdvice); slices.Contains(ambiguousLegal, legal) {
					return true, fmt.Sprintf("legal advice requires authorization: Legal_Advice=%q", legal)
				}
				if s.Get(AttrEthicalConcerns) == "Immoral" && s.CivilianPresence() > 50 {
					return true, fmt.Sprintf("ethical concerns with civilian presence above 50: Ethical_Concerns=\"Immoral\", Civilian_Presence=%q",
						s.Get(AttrCivilianPresence))
				}
				return false, ""
			},
		},
		{
			Name:     "sensitive_infrastructure",
			Decision: DecisionAskAuthorization,
			Match: func(s Scenario, _ int) (bool, string) {
				if s.Get(AttrPoliticallySensitive) != "High" || s.Get(AttrTerrainType) != "Critical Infrastructure Area" {
					return false, ""
				}
				return true, "politically sensitive infrastructure: Politically_Sensitive=\"High\", Terrain_Type=\"Critical Infrastructure Area\""
			},
		},
		{
			Name:     "mine_target_mismatch",
			Decision: DecisionDoNotKnow,
			Match: func(s Scenario, _ int) (bool, string) {
				tc := s.Get(AttrTargetCategory)
				if s.Get(AttrWeaponeering) != "Anti-Personnel Mine" || !slices.Contains(mineExcludedTargets, tc) {
					return false, ""
				}
				return true, fmt.Sprintf("weapon inappropriate for target: Weaponeering=\"Anti-Personnel Mine\", Target_Category=%q", tc)
			},
		},
	}
}
