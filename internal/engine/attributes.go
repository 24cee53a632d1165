package engine

// Attribute is one of the fixed scenario dimensions.
type Attribute int

const (
	AttrTargetCategory Attribute = iota
	AttrTargetVulnerability
	AttrTerrainType
	AttrCivilianPresence
	AttrDamageAssessment
	AttrTimeSensitivity
	AttrWeaponeering
	AttrFriendlyFire
	AttrPoliticallySensitive
	AttrLegalAdvice
	AttrEthicalConcerns
	AttrCollateralDamagePotential
	AttrAIDistinction
	AttrAIProportionality
	AttrAIMilitaryNecessity
	AttrHumanDistinction
	AttrHumanProportionality
	AttrHumanMilitaryNecessity

	// NumAttributes is the size of the attribute set.
	NumAttributes = int(AttrHumanMilitaryNecessity) + 1
)

// TotalScoreKey is the feature column holding the summed score.
const TotalScoreKey = "Total_Score"

// attributeKeys holds the dataset column names. The "(%)" suffixes are part
// of the trained classifier schema and must not be normalized.
var attributeKeys = [NumAttributes]string{
	AttrTargetCategory:            "Target_Category",
	AttrTargetVulnerability:       "Target_Vulnerability",
	AttrTerrainType:               "Terrain_Type",
	AttrCivilianPresence:          "Civilian_Presence",
	AttrDamageAssessment:          "Damage_Assessment",
	AttrTimeSensitivity:           "Time_Sensitivity",
	AttrWeaponeering:              "Weaponeering",
	AttrFriendlyFire:              "Friendly_Fire",
	AttrPoliticallySensitive:      "Politically_Sensitive",
	AttrLegalAdvice:               "Legal_Advice",
	AttrEthicalConcerns:           "Ethical_Concerns",
	AttrCollateralDamagePotential: "Collateral_Damage_Potential",
	AttrAIDistinction:             "AI_Distinction (%)",
	AttrAIProportionality:         "AI_Proportionality (%)",
	AttrAIMilitaryNecessity:       "AI_Military_Necessity",
	AttrHumanDistinction:          "Human_Distinction (%)",
	AttrHumanProportionality:      "Human_Proportionality (%)",
	AttrHumanMilitaryNecessity:    "Human_Military_Necessity",
}

var attributeByKey = func() map[string]Attribute {
	m := make(map[string]Attribute, NumAttributes)
	for i, k := range attributeKeys {
		m[k] = Attribute(i)
	}
	return m
}()

// Attributes returns every attribute in schema order.
func Attributes() []Attribute {
	out := make([]Attribute, NumAttributes)
	for i := range out {
		out[i] = Attribute(i)
	}
	return out
}

// Key returns the dataset column name, e.g. "AI_Distinction (%)".
func (a Attribute) Key() string {
	if !a.Valid() {
		return "unknown"
	}
	return attributeKeys[a]
}

// ScoreKey returns the feature column name, e.g. "Terrain_Type_Score".
func (a Attribute) ScoreKey() string {
	return a.Key() + "_Score"
}

// String implements fmt.Stringer.
func (a Attribute) String() string {
	return a.Key()
}

// Valid reports whether a is one of the known attributes.
func (a Attribute) Valid() bool {
	return a >= 0 && int(a) < NumAttributes
}

// ParseAttribute resolves a dataset column name to its Attribute.
func ParseAttribute(key string) (Attribute, bool) {
	a, ok := attributeByKey[key]
	return a, ok
}

// FeatureColumns returns the 19 feature column names in schema order:
// the per-attribute score columns followed by Total_Score.
func FeatureColumns() []string {
	cols := make([]string, 0, NumAttributes+1)
	for _, a := range Attributes() {
		cols = append(cols, a.ScoreKey())
	}
	return append(cols, TotalScoreKey)
}
