package pipeline

import (
	"context"
	"fmt"

	"github.com/sells-group/sitescope/internal/finance"
	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/scoring"
)

const sqftPerAcre = 43_560.0

// Final blend between the market composite and financial viability.
const (
	weightMarketComposite    = 0.70
	weightFinancialViability = 0.30
)

// runFinancial sizes the building from the parcel and zoning envelope,
// runs the deterministic cost and cashflow model, and composes the
// final score into a GO / NO_GO / MAYBE verdict.
func (d *Driver) runFinancial(ctx context.Context, r *stepRunner, steps []ledger.Step, rec *model.OpportunityRecord) (model.GateVerdict, error) {
	pass := steps[0].Pass
	result := &model.FinancialResult{}

	acres := rec.Site.AcreageGross
	if acres <= 0 {
		acres = d.cfg.DefaultAcreage
	}
	coverage := d.cfg.DefaultCoverage
	if rec.Jurisdiction != nil && rec.Jurisdiction.MaxCoveragePct > 0 {
		coverage = rec.Jurisdiction.MaxCoveragePct / 100
	}
	netRentable := acres * sqftPerAcre * coverage * d.cfg.RentableEfficiency

	err := r.exec(ctx, steps[0], func(ctx context.Context) (map[string]any, error) {
		result.BuildCost = finance.BuildCost(netRentable, d.cfg.CostPerSqft)
		return map[string]any{
			"net_rentable_sqft": netRentable,
			"total_usd":         result.BuildCost.TotalUSD,
		}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[1], func(ctx context.Context) (map[string]any, error) {
		result.Phases = finance.PhasePlan(result.BuildCost)
		return map[string]any{"phases": len(result.Phases)}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[2], func(ctx context.Context) (map[string]any, error) {
		result.UnitMix = finance.UnitMix(netRentable, rec.RateEvidence.RatePerSqft)
		return map[string]any{"lines": len(result.UnitMix)}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[3], func(ctx context.Context) (map[string]any, error) {
		result.Projection = finance.Project(result.BuildCost, result.UnitMix, d.cfg.Assumptions)
		return map[string]any{
			"irr":             result.Projection.IRR,
			"equity_multiple": result.Projection.EquityMultiple,
		}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	var finalScore float64
	err = r.exec(ctx, steps[4], func(ctx context.Context) (map[string]any, error) {
		result.ViabilityScore = finance.ViabilityScore(result.Projection)
		finalScore = d.composeFinal(rec, result.ViabilityScore, acres)
		return map[string]any{
			"viability_score": result.ViabilityScore,
			"final_score":     finalScore,
		}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	rec.Financial = result
	rec.FinalScore = finalScore

	decision := scoring.Decide(finalScore, false, d.cfg.Thresholds)
	return model.GateVerdict{
		Pass:    pass,
		Passed:  true,
		Outcome: decision,
		Reasons: []string{fmt.Sprintf("final score %.1f", finalScore)},
	}, nil
}

// composeFinal blends the market composite with financial viability.
// Constraints average the jurisdiction's buildability against the
// parcel's own shape and size.
func (d *Driver) composeFinal(rec *model.OpportunityRecord, viability, acres float64) float64 {
	parcelScore := scoring.ParcelViabilityFromAcreage(acres)
	if rec.Site.ParcelWKT != "" {
		if m, err := scoring.ParcelMetricsFromWKT(rec.Site.ParcelWKT); err == nil {
			parcelScore = scoring.ParcelViabilityScore(m)
		}
	}

	constraintScore := scoring.ConstraintScore(rec.Jurisdiction.DifficultyScore)
	constraints := (constraintScore + parcelScore) / 2

	market := scoring.FinalScore(rec.Demand.DemandScore, rec.Supply.SaturationScore, constraints)
	return scoring.Clamp(weightMarketComposite*market+weightFinancialViability*viability, 0, 100)
}
