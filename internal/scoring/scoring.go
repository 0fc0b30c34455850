// Package scoring composes raw market metrics into the sub-scores and
// the final weighted decision. Everything here is pure: same inputs,
// same score, no side effects.
package scoring

import "github.com/sells-group/sitescope/internal/model"

// Demand sub-score weights. Doctrine-fixed; the flat base keeps a thin
// market from scoring zero when its fundamentals are merely unproven.
const (
	weightPopulation = 0.25
	weightDensity    = 0.20
	weightIncome     = 0.25
	weightHousing    = 0.15
	demandBase       = 15.0
)

// Final composite weights (market variant).
const (
	weightDemand      = 0.40
	weightSupply      = 0.35
	weightConstraints = 0.25
)

// Normalization anchors for raw census metrics. A metric at its anchor
// maps to sub-score 100.
const (
	anchorPopulation   = 150_000.0
	anchorDensity      = 3_000.0 // people per square mile
	anchorIncome       = 100_000.0
	anchorHousingUnits = 60_000.0
)

// Saturation equilibrium: national self-storage supply hovers around
// 7 net rentable sqft per capita.
const equilibriumSqftPerCapita = 7.0

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DemandInputs are the four demand sub-scores, each nominally in
// [0,100]. They are clamped again before weighting so one runaway
// input cannot saturate the composite.
type DemandInputs struct {
	Population float64
	Density    float64
	Income     float64
	Housing    float64
}

// DemandSubScores normalizes raw census metrics into sub-scores.
func DemandSubScores(population int, densityPerSqMi, medianIncome float64, housingUnits int) DemandInputs {
	return DemandInputs{
		Population: Clamp(float64(population)/anchorPopulation*100, 0, 100),
		Density:    Clamp(densityPerSqMi/anchorDensity*100, 0, 100),
		Income:     Clamp(medianIncome/anchorIncome*100, 0, 100),
		Housing:    Clamp(float64(housingUnits)/anchorHousingUnits*100, 0, 100),
	}
}

// DemandScore composes the weighted demand score. Clamp-then-weight:
// each sub-score is bounded before its weight applies.
func DemandScore(in DemandInputs) float64 {
	score := weightPopulation*Clamp(in.Population, 0, 100) +
		weightDensity*Clamp(in.Density, 0, 100) +
		weightIncome*Clamp(in.Income, 0, 100) +
		weightHousing*Clamp(in.Housing, 0, 100) +
		demandBase
	return Clamp(score, 0, 100)
}

// SaturationScore maps net rentable sqft per capita to a supply score:
// 100 at zero supply, 50 at equilibrium, 0 at double equilibrium.
func SaturationScore(sqftPerCapita float64) float64 {
	if sqftPerCapita < 0 {
		sqftPerCapita = 0
	}
	return Clamp(100-(sqftPerCapita/equilibriumSqftPerCapita)*50, 0, 100)
}

// HotspotScore blends demand with market growth to rank a zip against
// its metro peers. Growth is a percentage; 4%/yr anchors to 100.
func HotspotScore(demandScore, growthRatePct float64) float64 {
	growth := Clamp(growthRatePct/4.0*100, 0, 100)
	return Clamp(0.7*Clamp(demandScore, 0, 100)+0.3*growth, 0, 100)
}

// FinalScore combines the market sub-scores under the doctrine weights.
func FinalScore(demand, supply, constraints float64) float64 {
	return Clamp(
		weightDemand*Clamp(demand, 0, 100)+
			weightSupply*Clamp(supply, 0, 100)+
			weightConstraints*Clamp(constraints, 0, 100),
		0, 100)
}

// Thresholds are the decision cut lines.
type Thresholds struct {
	Go   float64
	NoGo float64
}

// DefaultThresholds returns the doctrine cut lines.
func DefaultThresholds() Thresholds {
	return Thresholds{Go: 70, NoGo: 40}
}

// Decide maps the final score to a verdict. A fatal prohibition
// overrides the numeric mapping unconditionally.
func Decide(finalScore float64, hasFatalProhibition bool, t Thresholds) model.Decision {
	if hasFatalProhibition {
		return model.DecisionNoGo
	}
	switch {
	case finalScore >= t.Go:
		return model.DecisionGo
	case finalScore <= t.NoGo:
		return model.DecisionNoGo
	default:
		return model.DecisionMaybe
	}
}

// DifficultyScore rates how hard a jurisdiction is to build in, from
// its storage posture and how much of the pass-2 envelope the recon
// profile actually covers. Higher is harder.
func DifficultyScore(storagePosture string, envelopeCoverage float64) float64 {
	var base float64
	switch storagePosture {
	case "permitted":
		base = 10
	case "conditional":
		base = 50
	case "prohibited":
		base = 100
	default:
		base = 70 // unknown posture is presumed hard
	}
	// Thin recon coverage adds friction: everything unknown must be
	// chased by hand.
	friction := (1 - Clamp(envelopeCoverage, 0, 1)) * 30
	return Clamp(base+friction, 0, 100)
}

// ConstraintScore inverts difficulty for the final composite, where
// higher means more buildable.
func ConstraintScore(difficulty float64) float64 {
	return Clamp(100-difficulty, 0, 100)
}
