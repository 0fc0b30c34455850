package pipeline

import (
	"context"
	"fmt"

	"github.com/sells-group/sitescope/internal/escalate"
	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/scoring"
)

// Supply score when competitor enumeration came back empty-handed:
// neither saturated nor wide open, just unknown.
const neutralSaturationScore = 50.0

// runMarket pulls demographics, fills the competitor and growth gaps,
// and scores the market. The gate walks thin or cold markets before
// any rate-evidence spend happens.
func (d *Driver) runMarket(ctx context.Context, r *stepRunner, steps []ledger.Step, rec *model.OpportunityRecord) (model.GateVerdict, error) {
	hyd := rec.ZipHydration
	demand := &model.DemandResult{}
	supply := &model.SupplyResult{}

	// census_pull is locked: no demographics, no screening.
	err := r.exec(ctx, steps[0], func(ctx context.Context) (map[string]any, error) {
		demo, err := d.deps.Census.Demographics(ctx, hyd.Zip)
		if err != nil {
			return nil, err
		}
		demand.Population = demo.Population
		demand.MedianIncome = demo.MedianIncome
		demand.HousingUnits = demo.HousingUnits
		return map[string]any{"population": demo.Population, "year": demo.Year}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[1], func(ctx context.Context) (map[string]any, error) {
		if info, zerr := d.deps.Zips.Lookup(hyd.Zip); zerr == nil && info.AreaSqMi > 0 {
			demand.DensityPerSqMi = float64(demand.Population) / info.AreaSqMi
		}
		sub := scoring.DemandSubScores(demand.Population, demand.DensityPerSqMi,
			demand.MedianIncome, demand.HousingUnits)
		demand.DemandScore = scoring.DemandScore(sub)
		return map[string]any{"demand_score": demand.DemandScore}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	competitors, err := d.resolveGapStep(ctx, r, steps[2], model.GapRequest{
		RunID:          rec.RunID,
		Zip:            hyd.Zip,
		JurisdictionID: hyd.JurisdictionID,
		Kind:           model.DataKindCompetitorSet,
		MinConfidence:  d.cfg.GapMinConfidence,
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[3], func(ctx context.Context) (map[string]any, error) {
		if ev := bestEvidence(competitors); ev != nil {
			supply.CompetitorSqft = ev.Value
			supply.CompetitorCount = ev.SampleSize
			if demand.Population > 0 {
				supply.SqftPerCapita = supply.CompetitorSqft / float64(demand.Population)
			}
			supply.SaturationScore = scoring.SaturationScore(supply.SqftPerCapita)
		} else {
			supply.SaturationScore = neutralSaturationScore
		}
		return map[string]any{
			"competitor_count": supply.CompetitorCount,
			"sqft_per_capita":  supply.SqftPerCapita,
			"saturation_score": supply.SaturationScore,
		}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	growth, err := d.resolveGapStep(ctx, r, steps[4], model.GapRequest{
		RunID:          rec.RunID,
		Zip:            hyd.Zip,
		JurisdictionID: hyd.JurisdictionID,
		Kind:           model.DataKindGrowthRate,
		MinConfidence:  d.cfg.GapMinConfidence,
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[5], func(ctx context.Context) (map[string]any, error) {
		// Unresolved growth scores as zero: flat until proven otherwise.
		if ev := bestEvidence(growth); ev != nil {
			demand.GrowthRatePct = ev.Value
		}
		demand.HotspotScore = scoring.HotspotScore(demand.DemandScore, demand.GrowthRatePct)
		return map[string]any{"hotspot_score": demand.HotspotScore}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	rec.Demand = demand
	rec.Supply = supply

	var reasons []string
	if demand.Population < d.cfg.MinPopulation {
		reasons = append(reasons, fmt.Sprintf("population %d below minimum %d",
			demand.Population, d.cfg.MinPopulation))
	}
	if demand.HotspotScore < d.cfg.MinHotspotScore {
		reasons = append(reasons, fmt.Sprintf("hotspot score %.1f below minimum %.1f",
			demand.HotspotScore, d.cfg.MinHotspotScore))
	}
	if len(reasons) > 0 {
		return walk(steps[0].Pass, reasons...), nil
	}
	return promote(steps[0].Pass), nil
}

// resolveGapStep runs one single-tier gap fill as a ledger step. Tier
// attempts carry their own persisted cost, so the step outcome records
// none; exhaustion is a recorded state, not a step failure.
func (d *Driver) resolveGapStep(ctx context.Context, r *stepRunner, step ledger.Step, gap model.GapRequest) (*escalate.Resolution, error) {
	var res *escalate.Resolution
	err := r.exec(ctx, step, func(ctx context.Context) (map[string]any, error) {
		var err error
		res, err = d.deps.Resolver.Resolve(ctx, step.Pass, gap)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"state":     string(res.State),
			"attempts":  len(res.Attempts),
			"spend_usd": res.SpendUSD,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// bestEvidence returns the winner's evidence, or the highest-confidence
// evidence any attempt produced when escalation exhausted.
func bestEvidence(res *escalate.Resolution) *model.Evidence {
	if res == nil {
		return nil
	}
	if res.Winner != nil && res.Winner.Evidence != nil {
		return res.Winner.Evidence
	}
	var best *model.TierAttempt
	for i := range res.Attempts {
		a := &res.Attempts[i]
		if a.Evidence == nil {
			continue
		}
		if best == nil || a.Confidence > best.Confidence {
			best = a
		}
	}
	if best == nil {
		return nil
	}
	return best.Evidence
}
