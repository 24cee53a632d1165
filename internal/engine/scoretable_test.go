package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Exact(t *testing.T) {
	tests := []struct {
		attr Attribute
		raw  string
		want int
	}{
		{AttrTargetCategory, "Chapel", -1},
		{AttrTargetCategory, "High-Value Target", 5},
		{AttrTargetCategory, "Medical Vehicle", -5},
		{AttrTerrainType, "Dam and Reservoir", -5},
		{AttrTerrainType, "Forested Terrain", 5},
		{AttrCivilianPresence, "0", 0},
		{AttrCivilianPresence, "100-200", -5},
		{AttrDamageAssessment, "Very_Low", -1},
		{AttrWeaponeering, "Torpedo", 4},
		{AttrFriendlyFire, "Very_High", -2},
		{AttrEthicalConcerns, "Immoral", -2},
		{AttrCollateralDamagePotential, "Very_High", -3},
		{AttrAIDistinction, "1", -5},
		{AttrAIDistinction, "10", -5},
		{AttrAIDistinction, "11", -4},
		{AttrAIDistinction, "50", -1},
		{AttrAIDistinction, "51", 1},
		{AttrAIProportionality, "100", 5},
		{AttrHumanDistinction, "30", -5},
		{AttrHumanProportionality, "65", -3},
		{AttrHumanProportionality, "70", 1},
		{AttrAIMilitaryNecessity, "Open to Debate", 1},
		{AttrHumanMilitaryNecessity, "Yes", 3},
	}
	for _, tt := range tests {
		t.Run(tt.attr.Key()+"="+tt.raw, func(t *testing.T) {
			got, err := Lookup(tt.attr, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookup_UnmappedIsError(t *testing.T) {
	for _, raw := range []string{"", "chapel", "Church", "0", "101"} {
		_, err := Lookup(AttrTargetCategory, raw)
		var unmapped *UnmappedValueError
		require.True(t, errors.As(err, &unmapped), "value %q should be unmapped", raw)
		assert.Equal(t, AttrTargetCategory, unmapped.Attribute)
		assert.Equal(t, raw, unmapped.Value)
	}

	_, err := Lookup(AttrAIDistinction, "0")
	assert.Error(t, err, "percentage buckets have no zero band")

	_, err = Lookup(AttrHumanDistinction, "55")
	assert.Error(t, err, "human percentages only cover sampled values")
}

func TestLookup_InvalidAttribute(t *testing.T) {
	_, err := Lookup(Attribute(NumAttributes), "x")
	var unknown *UnknownAttributeError
	assert.True(t, errors.As(err, &unknown))
}

func TestPercentBuckets_CoverOneToHundred(t *testing.T) {
	buckets := percentBuckets()
	assert.Len(t, buckets, 100)
	for _, v := range buckets {
		assert.NotZero(t, v)
		assert.GreaterOrEqual(t, v, -5)
		assert.LessOrEqual(t, v, 5)
	}
}

func TestDomain_Sorted(t *testing.T) {
	assert.Equal(t,
		[]string{"0", "1-10", "11-29", "30-49", "50-99", "100-200"},
		Domain(AttrCivilianPresence))

	assert.Equal(t,
		[]string{"30", "50", "65", "70", "75", "80", "90", "100"},
		Domain(AttrHumanDistinction))

	ai := Domain(AttrAIDistinction)
	require.Len(t, ai, 100)
	assert.Equal(t, "1", ai[0])
	assert.Equal(t, "100", ai[99])

	assert.Equal(t, []string{"High", "Immediate", "Normal"}, Domain(AttrTimeSensitivity))
	assert.Nil(t, Domain(Attribute(-1)))
}

func TestDomain_EveryValueLooksUp(t *testing.T) {
	for _, a := range Attributes() {
		for _, raw := range Domain(a) {
			_, err := Lookup(a, raw)
			assert.NoError(t, err, "%s=%q", a.Key(), raw)
		}
	}
}

func TestAttributeKeys(t *testing.T) {
	assert.Equal(t, 18, NumAttributes)
	a, ok := ParseAttribute("AI_Distinction (%)")
	require.True(t, ok)
	assert.Equal(t, AttrAIDistinction, a)
	assert.Equal(t, "AI_Distinction (%)_Score", a.ScoreKey())

	_, ok = ParseAttribute("AI_Distinction")
	assert.False(t, ok)

	cols := FeatureColumns()
	require.Len(t, cols, 19)
	assert.Equal(t, "Target_Category_Score", cols[0])
	assert.Equal(t, TotalScoreKey, cols[18])
}
