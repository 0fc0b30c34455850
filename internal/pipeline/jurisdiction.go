package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/sitescope/internal/capability"
	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/scoring"
)

// runJurisdiction screens the site's jurisdiction: capability recon,
// zoning envelope, prohibitions, difficulty. An agent failure holds the
// run for retry; a fatal prohibition ends it NO_GO regardless of how
// the market scored.
func (d *Driver) runJurisdiction(ctx context.Context, r *stepRunner, steps []ledger.Step, rec *model.OpportunityRecord) (model.GateVerdict, error) {
	hyd := rec.ZipHydration
	pass := steps[0].Pass
	result := &model.JurisdictionResult{JurisdictionID: hyd.JurisdictionID}

	var profile *capability.Profile

	// Recon spend counts only when the agent actually ran; a cache hit
	// is free. Either way the outcome lands in the store before the
	// pass continues.
	err := r.execCost(ctx, steps[0], func(ctx context.Context) (float64, map[string]any, error) {
		p, reconRan, err := d.deps.Profiles.ReconOrFetch(ctx, hyd.JurisdictionID)
		cost := 0.0
		if reconRan {
			cost = steps[0].CostUSD
		}
		if err != nil {
			return cost, map[string]any{"recon_ran": reconRan}, err
		}
		profile = p
		return cost, map[string]any{
			"recon_ran":       reconRan,
			"profile_version": p.Metadata.Version,
		}, nil
	})
	if err != nil {
		var agentErr *model.AgentFailure
		if errors.As(err, &agentErr) {
			r.skipRemaining(ctx, steps, 1, "capability recon failed")
			rec.Jurisdiction = result
			return hold(pass, fmt.Sprintf("capability recon failed for %s, retry next dispatch cycle",
				hyd.JurisdictionID)), nil
		}
		return model.GateVerdict{}, err
	}
	result.ProfileVersion = profile.Metadata.Version

	var envelope *ZoningEnvelope
	err = r.exec(ctx, steps[1], func(ctx context.Context) (map[string]any, error) {
		env, found := d.deps.Zoning.Envelope(hyd.JurisdictionID)
		if !found {
			// A jurisdiction the zoning source has never mapped is a
			// valid lookup with an empty answer, not a step failure.
			result.StoragePosture = "unknown"
			return map[string]any{"found": false}, nil
		}
		envelope = env
		result.ZoningCode = env.Code
		result.StoragePosture = env.Posture
		result.SetbackFt = env.SetbackFt
		result.MaxHeightFt = env.MaxHeightFt
		result.MaxCoveragePct = env.MaxCoveragePct
		return map[string]any{"found": true, "posture": env.Posture}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[2], func(ctx context.Context) (map[string]any, error) {
		result.FatalProhibition = envelope != nil &&
			envelope.Posture == PostureProhibited && envelope.Fatal
		return map[string]any{"fatal": result.FatalProhibition}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[3], func(ctx context.Context) (map[string]any, error) {
		result.EnvelopeComplete = envelope != nil &&
			result.SetbackFt > 0 && result.MaxHeightFt > 0 && result.MaxCoveragePct > 0
		return map[string]any{"complete": result.EnvelopeComplete}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[4], func(ctx context.Context) (map[string]any, error) {
		result.DifficultyScore = scoring.DifficultyScore(result.StoragePosture, profile.Pass2.Coverage)
		return map[string]any{"difficulty_score": result.DifficultyScore}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	rec.Jurisdiction = result

	if result.FatalProhibition {
		return model.GateVerdict{
			Pass:    pass,
			Passed:  false,
			Outcome: model.DecisionNoGo,
			Reasons: []string{fmt.Sprintf("self-storage prohibited in %s (%s)",
				hyd.JurisdictionID, result.ZoningCode)},
		}, nil
	}
	if !result.EnvelopeComplete {
		return hold(pass, fmt.Sprintf("zoning envelope incomplete for %s, needs manual review",
			hyd.JurisdictionID)), nil
	}
	return promote(pass), nil
}
