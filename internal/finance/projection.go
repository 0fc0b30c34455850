package finance

import (
	"math"

	"github.com/sells-group/sitescope/internal/model"
)

// Assumptions are the fixed underwriting inputs to the projection.
type Assumptions struct {
	LTV                 float64 // loan-to-cost
	InterestRate        float64 // annual
	AmortYears          int
	ExitCapRate         float64
	StabilizedOccupancy float64
	OpexRatio           float64 // operating expenses as share of collected rent
	LeaseUpYears        int     // linear ramp from zero to stabilized occupancy
	HoldYears           int
}

// DefaultAssumptions returns the doctrine underwriting assumptions.
func DefaultAssumptions() Assumptions {
	return Assumptions{
		LTV:                 0.65,
		InterestRate:        0.07,
		AmortYears:          25,
		ExitCapRate:         0.065,
		StabilizedOccupancy: 0.85,
		OpexRatio:           0.35,
		LeaseUpYears:        3,
		HoldYears:           7,
	}
}

// Project builds the single deterministic cashflow projection: equity
// out in year zero, levered cashflows through the hold, sale proceeds
// at exit. No Monte Carlo, no rate paths.
func Project(bc model.BuildCost, mix []model.UnitMixLine, a Assumptions) model.Projection {
	gross := GrossAnnualRent(mix)
	stabilizedNOI := gross * a.StabilizedOccupancy * (1 - a.OpexRatio)

	debt := bc.TotalUSD * a.LTV
	equity := bc.TotalUSD - debt
	debtSvc := annualDebtService(debt, a.InterestRate, a.AmortYears)

	cashflows := make([]float64, a.HoldYears+1)
	cashflows[0] = -equity

	balance := debt
	for year := 1; year <= a.HoldYears; year++ {
		occ := a.StabilizedOccupancy
		if a.LeaseUpYears > 0 && year <= a.LeaseUpYears {
			occ = a.StabilizedOccupancy * float64(year) / float64(a.LeaseUpYears)
		}
		noi := gross * occ * (1 - a.OpexRatio)
		cashflows[year] = noi - debtSvc

		interest := balance * a.InterestRate
		principal := debtSvc - interest
		if principal > balance {
			principal = balance
		}
		balance -= principal
	}

	// Sale at exit cap on stabilized NOI, net of remaining debt.
	if a.ExitCapRate > 0 {
		cashflows[a.HoldYears] += stabilizedNOI/a.ExitCapRate - balance
	}

	proj := model.Projection{
		HoldYears:     a.HoldYears,
		StabilizedNOI: stabilizedNOI,
		AnnualDebtSvc: debtSvc,
		Cashflows:     cashflows,
		IRR:           IRR(cashflows),
	}

	if equity > 0 {
		var distributed float64
		for _, cf := range cashflows[1:] {
			if cf > 0 {
				distributed += cf
			}
		}
		proj.EquityMultiple = distributed / equity
		stabYear := a.LeaseUpYears + 1
		if stabYear <= a.HoldYears {
			proj.CashOnCash = (gross*a.StabilizedOccupancy*(1-a.OpexRatio) - debtSvc) / equity
		}
	}
	return proj
}

// annualDebtService computes the level annual payment on a fully
// amortizing loan.
func annualDebtService(principal, rate float64, years int) float64 {
	if principal <= 0 || years <= 0 {
		return 0
	}
	if rate == 0 {
		return principal / float64(years)
	}
	f := math.Pow(1+rate, float64(years))
	return principal * rate * f / (f - 1)
}

// IRR solves NPV(r) = 0 by bisection over [-0.99, 10]. Returns 0 when
// the cashflow series never changes sign.
func IRR(cashflows []float64) float64 {
	hasNeg, hasPos := false, false
	for _, cf := range cashflows {
		if cf < 0 {
			hasNeg = true
		}
		if cf > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return 0
	}

	npv := func(r float64) float64 {
		var sum float64
		for t, cf := range cashflows {
			sum += cf / math.Pow(1+r, float64(t))
		}
		return sum
	}

	lo, hi := -0.99, 10.0
	if npv(lo)*npv(hi) > 0 {
		return 0
	}
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		v := npv(mid)
		if math.Abs(v) < 1e-9 {
			return mid
		}
		if npv(lo)*v < 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return (lo + hi) / 2
}

// ViabilityScore maps the projection onto [0,100]: IRR carries most of
// the weight, equity multiple and cash-on-cash round it out.
func ViabilityScore(p model.Projection) float64 {
	irrScore := scale(p.IRR, 0.05, 0.20)
	emScore := scale(p.EquityMultiple, 1.0, 2.5)
	cocScore := scale(p.CashOnCash, 0, 0.10)
	return 0.60*irrScore + 0.25*emScore + 0.15*cocScore
}

// Model runs the full pass-3 chain for a net rentable area at an
// evidenced base rate.
func Model(netRentableSqft, costPerSqft, baseRatePerSqft float64, a Assumptions) model.FinancialResult {
	bc := BuildCost(netRentableSqft, costPerSqft)
	phases := PhasePlan(bc)
	mix := UnitMix(netRentableSqft, baseRatePerSqft)
	proj := Project(bc, mix, a)
	return model.FinancialResult{
		BuildCost:      bc,
		Phases:         phases,
		UnitMix:        mix,
		Projection:     proj,
		ViabilityScore: ViabilityScore(proj),
	}
}

// scale maps v linearly onto [0,100] between lo and hi.
func scale(v, lo, hi float64) float64 {
	if v <= lo {
		return 0
	}
	if v >= hi {
		return 100
	}
	return 100 * (v - lo) / (hi - lo)
}
