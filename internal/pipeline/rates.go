package pipeline

import (
	"context"
	"fmt"

	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
)

// runRateEvidence fills the street-rate gap by walking the tier ladder,
// then composes the evidence and gates on its confidence. The ladder
// steps of this pass are the escalation tiers themselves; the resolver
// owns their ordering and spend.
func (d *Driver) runRateEvidence(ctx context.Context, r *stepRunner, steps []ledger.Step, rec *model.OpportunityRecord) (model.GateVerdict, error) {
	hyd := rec.ZipHydration
	pass := steps[0].Pass
	compose := steps[len(steps)-1]
	ladder := steps[:len(steps)-1]

	res, err := d.deps.Resolver.Resolve(ctx, pass, model.GapRequest{
		RunID:          rec.RunID,
		Zip:            hyd.Zip,
		JurisdictionID: hyd.JurisdictionID,
		Kind:           model.DataKindStreetRate,
		MinConfidence:  d.cfg.RatePromoteConfidence,
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	// Mirror each executed tier onto its ledger step, matched by tool
	// name rather than position so untried tiers never claim another
	// tier's attempt. Attempt cost is already persisted per attempt, so
	// the step outcomes carry none.
	attemptByTool := make(map[string]model.TierAttempt, len(res.Attempts))
	for _, a := range res.Attempts {
		attemptByTool[a.Tool] = a
	}
	for _, step := range ladder {
		a, ran := attemptByTool[step.Name]
		if !ran {
			r.skip(ctx, step, "ladder satisfied before this tier")
			continue
		}
		out := model.StepOutcome{
			Pass:       step.Pass,
			StepIndex:  step.StepIndex,
			Name:       step.Name,
			Tool:       step.Tool,
			Status:     model.StepStatusComplete,
			DurationMS: a.DurationMS,
			Metadata: map[string]any{
				"outcome":    string(a.Outcome),
				"confidence": a.Confidence,
			},
		}
		if a.Outcome == model.TierOutcomeFailed {
			out.Status = model.StepStatusFailed
			out.Error = a.Error
		}
		r.record(ctx, out) //nolint:errcheck
	}

	evidence := &model.RateEvidenceResult{
		Attempts: res.Attempts,
		SpendUSD: res.SpendUSD,
		Resolved: res.Resolved(),
	}

	err = r.exec(ctx, compose, func(ctx context.Context) (map[string]any, error) {
		winner := res.Winner
		if winner == nil {
			winner = bestAttempt(res.Attempts)
		}
		if winner != nil && winner.Evidence != nil {
			evidence.RatePerSqft = winner.Evidence.Value
			evidence.Confidence = winner.Confidence
			evidence.Source = winner.Tool
			evidence.Tier = winner.Tier
		}
		return map[string]any{
			"rate_per_sqft": evidence.RatePerSqft,
			"confidence":    evidence.Confidence,
			"source":        evidence.Source,
		}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	rec.RateEvidence = evidence

	switch {
	case evidence.Confidence >= d.cfg.RatePromoteConfidence:
		return promote(pass), nil
	case evidence.Confidence >= d.cfg.RateHoldConfidence:
		return hold(pass, fmt.Sprintf("rate confidence %.2f below promote bar %.2f",
			evidence.Confidence, d.cfg.RatePromoteConfidence)), nil
	default:
		return walk(pass, fmt.Sprintf("rate confidence %.2f below hold bar %.2f",
			evidence.Confidence, d.cfg.RateHoldConfidence)), nil
	}
}

// bestAttempt picks the highest-confidence attempt that produced
// evidence, for composing a below-bar rate out of an exhausted ladder.
func bestAttempt(attempts []model.TierAttempt) *model.TierAttempt {
	var best *model.TierAttempt
	for i := range attempts {
		a := &attempts[i]
		if a.Evidence == nil {
			continue
		}
		if best == nil || a.Confidence > best.Confidence {
			best = a
		}
	}
	return best
}
