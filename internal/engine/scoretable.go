package engine

import (
	"sort"
	"strconv"
)

// scoreTable maps every valid raw value of every attribute to its score.
// Built once at package init and never mutated.
var scoreTable = [NumAttributes]map[string]int{
	AttrTargetCategory: {
		"Air Base":                        3,
		"Airborne Unit":                   3,
		"Airfield":                        2,
		"Ammo Stockpile":                  2,
		"Ammunition Depot":                2,
		"Armor Unit":                      3,
		"Artillery Unit":                  3,
		"Barracks":                        1,
		"Battalion HQ":                    4,
		"Battlegroup HQ":                  4,
		"Bridging Unit":                   3,
		"Brigade HQ":                      3,
		"Cargo Aircraft":                  3,
		"Chapel":                          -1,
		"Checkpoint":                      1,
		"Command Post":                    4,
		"Division HQ":                     4,
		"Dummy Target":                    1,
		"Electronic Warfare Installation": 3,
		"Enemy Personnel":                 1,
		"Engineering Unit":                2,
		"Fighter Aircraft":                4,
		"Frigate":                         4,
		"Fuel Depot":                      2,
		"High-Value Target":               5,
		"Infantry Platoon":                2,
		"Infantry Squad":                  1,
		"Inflatable Military Decoy":       1,
		"Logistics Unit":                  2,
		"Mast Antennas":                   3,
		"Medical Installation":            -5,
		"Medical Vehicle":                 -5,
		"Military Equipment":              1,
		"Military Equipment CL I":         1,
		"Military Equipment CL II":        1,
		"Military Equipment CL IV":        1,
		"Military Installation":           1,
		"Mobile Command Vehicle":          4,
		"Motorized Unit":                  2,
		"Naval Base":                      3,
		"Observation Post":                1,
		"Radar Installation":              4,
		"Reconnaissance Unit":             2,
		"Ship Maintenance Facility":       1,
		"Signal Tower":                    4,
		"Sniper Team":                     2,
		"Training Centre":                 1,
		"Unmanned Aerial Vehicle":         2,
		"Unmanned Ground Vehicle":         1,
		"Unmanned Maritime Systems":       1,
	},
	AttrTargetVulnerability: {
		"Very_Low":  1,
		"Low":       2,
		"Medium":    3,
		"High":      4,
		"Very_High": 5,
	},
	AttrTerrainType: {
		"Agricultural Land":            4,
		"Border Region":                1,
		"Communication Infrastructure": 2,
		"Critical Infrastructure Area": 2,
		"Dam and Reservoir":            -5,
		"Electric Power Grid Network":  1,
		"Forested Terrain":             5,
		"Hilly Terrain":                5,
		"Historical Site":              1,
		"Industrial Zone":              2,
		"Medical Facility":             -5,
		"Open Field":                   4,
		"Public Area":                  -4,
		"Railway Infrastructure":       2,
		"Residential Area":             -4,
		"Suburban Area":                -2,
		"Transportation Hub":           1,
		"Tunnel and Cave":              1,
		"Urban Center":                 -4,
		"Village":                      -3,
	},
	AttrCivilianPresence: {
		"0":       0,
		"1-10":    -1,
		"11-29":   -2,
		"30-49":   -3,
		"50-99":   -4,
		"100-200": -5,
	},
	AttrDamageAssessment: {
		"Very_Low":  -1,
		"Low":       1,
		"Medium":    2,
		"High":      2,
		"Very_High": 3,
	},
	AttrTimeSensitivity: {
		"Normal":    1,
		"High":      3,
		"Immediate": 5,
	},
	AttrWeaponeering: {
		"120mm Mortar":                     3,
		"155mm Artillery":                  4,
		"Air-to-Surface Missile":           5,
		"Anti-Personnel Mine":              1,
		"Cluster Munition":                 2,
		"Cyber Weapon":                     5,
		"Incendiary Weapon":                1,
		"Killer Drone":                     1,
		"Laser-Guided Rocket":              5,
		"Lethal Autonomous Weapons System": 1,
		"Precision Guided Munition":        5,
		"Precision Strike Missile":         5,
		"SOF Unit":                         5,
		"Sniper":                           5,
		"Surface-to-Air Missile":           5,
		"Thermobaric Munition":             1,
		"Torpedo":                          4,
		"Unguided Bomb":                    1,
		"White Phosphorus Bomb":            1,
	},
	AttrFriendlyFire: {
		"Very_Low":  3,
		"Low":       2,
		"Medium":    1,
		"High":      -1,
		"Very_High": -2,
	},
	AttrPoliticallySensitive: {
		"Very_Low":  2,
		"Low":       1,
		"Medium":    1,
		"High":      1,
		"Very_High": -1,
	},
	AttrLegalAdvice: {
		"It depends":   1,
		"Lawful":       3,
		"Legitimate":   2,
		"Neutral":      2,
		"Questionable": 1,
	},
	AttrEthicalConcerns: {
		"Hypothetical": 1,
		"Immoral":      -2,
		"It depends":   1,
		"No":           3,
		"Plausible":    1,
		"Potential":    1,
		"Realizable":   1,
		"Theoretical":  1,
		"Unlikely":     2,
		"Yes":          -2,
	},
	AttrCollateralDamagePotential: {
		"Very_Low":  2,
		"Low":       1,
		"Medium":    1,
		"High":      -2,
		"Very_High": -3,
	},
	AttrAIDistinction:     percentBuckets(),
	AttrAIProportionality: percentBuckets(),
	AttrAIMilitaryNecessity: {
		"Open to Debate": 1,
		"Yes":            2,
	},
	AttrHumanDistinction:     humanPercentScores(),
	AttrHumanProportionality: humanPercentScores(),
	AttrHumanMilitaryNecessity: {
		"Open to Debate": 2,
		"Yes":            3,
	},
}

// percentBuckets covers every integer 1..100 in bands of ten:
// 1-10 → -5, 11-20 → -4, ..., 41-50 → -1, 51-60 → +1, ..., 91-100 → +5.
// There is no zero band.
func percentBuckets() map[string]int {
	m := make(map[string]int, 100)
	for n := 1; n <= 100; n++ {
		band := (n + 9) / 10 // 1..10
		score := band - 6
		if band > 5 {
			score = band - 5
		}
		m[strconv.Itoa(n)] = score
	}
	return m
}

// humanPercentScores covers only the values human raters were sampled at.
func humanPercentScores() map[string]int {
	return map[string]int{
		"30":  -5,
		"50":  -4,
		"65":  -3,
		"70":  1,
		"75":  2,
		"80":  3,
		"90":  4,
		"100": 5,
	}
}

// Lookup returns the score for raw value of attribute a.
// A value absent from the table is an *UnmappedValueError, never zero.
func Lookup(a Attribute, raw string) (int, error) {
	if !a.Valid() {
		return 0, &UnknownAttributeError{Key: a.Key()}
	}
	score, ok := scoreTable[a][raw]
	if !ok {
		return 0, &UnmappedValueError{Attribute: a, Value: raw}
	}
	return score, nil
}

// Domain returns the valid raw values of a, sorted. Numeric domains are
// sorted numerically by their leading number.
func Domain(a Attribute) []string {
	if !a.Valid() {
		return nil
	}
	values := make([]string, 0, len(scoreTable[a]))
	for v := range scoreTable[a] {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		ni, iok := leadingInt(values[i])
		nj, jok := leadingInt(values[j])
		if iok && jok && ni != nj {
			return ni < nj
		}
		return values[i] < values[j]
	})
	return values
}

func leadingInt(s string) (int, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	return n, err == nil
}
