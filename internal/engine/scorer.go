package engine

import "math"

// ScoredScenario holds the per-attribute scores and their total.
type ScoredScenario struct {
	Scores [NumAttributes]int
	Total  int
}

// Score looks up every attribute of s and sums the results. It fails
// atomically: on the first lookup error no partial result is returned.
func Score(s Scenario) (*ScoredScenario, error) {
	var out ScoredScenario
	for _, a := range Attributes() {
		v, err := Lookup(a, s.values[a])
		if err != nil {
			return nil, err
		}
		out.Scores[a] = v
		out.Total += v
	}
	return &out, nil
}

// Score returns the score of a single attribute.
func (sc *ScoredScenario) Score(a Attribute) int {
	if !a.Valid() {
		return 0
	}
	return sc.Scores[a]
}

// Features returns the 19 numeric feature columns keyed by name.
func (sc *ScoredScenario) Features() map[string]int {
	out := make(map[string]int, NumAttributes+1)
	for _, a := range Attributes() {
		out[a.ScoreKey()] = sc.Scores[a]
	}
	out[TotalScoreKey] = sc.Total
	return out
}

// PercentageContribution returns each attribute's share of the total absolute
// weight, 100*|score|/Σ|scores|, carrying the sign of the score and rounded to
// two decimals. Total_Score is excluded from the denominator. When every score
// is zero all contributions are zero.
func PercentageContribution(sc *ScoredScenario) map[Attribute]float64 {
	out := make(map[Attribute]float64, NumAttributes)
	totalAbs := 0
	for _, v := range sc.Scores {
		totalAbs += abs(v)
	}
	for _, a := range Attributes() {
		if totalAbs == 0 {
			out[a] = 0
			continue
		}
		v := sc.Scores[a]
		pct := math.Round(float64(abs(v))/float64(totalAbs)*100*100) / 100
		if v < 0 {
			pct = -pct
		}
		out[a] = pct
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
