// Package finance holds the deterministic financial sub-models: build
// cost, phase planning, unit-mix optimization, and the single cashflow
// projection behind IRR and the viability score. No stochastic or
// market-lookup component; fixed multiplier policy throughout.
package finance

import "github.com/sells-group/sitescope/internal/model"

// Fixed cost policy: soft costs and contingency are percentages of hard
// cost, so total is always hard x 1.2.
const (
	softCostRatio    = 0.15
	contingencyRatio = 0.05
)

// Phasing doctrine: a project above the threshold builds in two phases,
// second phase breaking ground two years in.
const (
	singlePhaseMaxSqft = 60_000.0
	phaseOneShare      = 0.6
	phaseTwoStartMonth = 24
)

// BuildCost computes the construction budget for a net rentable area.
func BuildCost(netRentableSqft, costPerSqft float64) model.BuildCost {
	hard := netRentableSqft * costPerSqft
	return model.BuildCost{
		NetRentableSqft: netRentableSqft,
		CostPerSqft:     costPerSqft,
		HardCostUSD:     hard,
		SoftCostUSD:     hard * softCostRatio,
		ContingencyUSD:  hard * contingencyRatio,
		TotalUSD:        hard * (1 + softCostRatio + contingencyRatio),
	}
}

// PhasePlan splits the build into phases by the sqft doctrine. Costs
// are allocated pro rata from the total budget.
func PhasePlan(bc model.BuildCost) []model.PhasePlan {
	if bc.NetRentableSqft <= singlePhaseMaxSqft {
		return []model.PhasePlan{{
			Phase:   1,
			Sqft:    bc.NetRentableSqft,
			CostUSD: bc.TotalUSD,
		}}
	}

	p1Sqft := bc.NetRentableSqft * phaseOneShare
	p2Sqft := bc.NetRentableSqft - p1Sqft
	return []model.PhasePlan{
		{Phase: 1, Sqft: p1Sqft, StartMonth: 0, CostUSD: bc.TotalUSD * phaseOneShare},
		{Phase: 2, Sqft: p2Sqft, StartMonth: phaseTwoStartMonth, CostUSD: bc.TotalUSD * (1 - phaseOneShare)},
	}
}
