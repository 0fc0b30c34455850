package capability

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sitescope/internal/model"
)

// ReconRequest asks an agent to survey one jurisdiction.
type ReconRequest struct {
	JurisdictionID string    `json:"jurisdiction_id"`
	Type           ReconType `json:"type"`
	CorrelationID  string    `json:"correlation_id"`
}

// Agent conducts capability recon for a jurisdiction. Long-running;
// invoked asynchronously with a correlation id. A failed invocation
// returns *model.AgentFailure and must not produce a partial profile.
type Agent interface {
	ConductRecon(ctx context.Context, req ReconRequest) (*Profile, error)
}

// DispatchResult summarizes one dispatch cycle.
type DispatchResult struct {
	Reconned     []string `json:"reconned"`
	AlreadyFresh []string `json:"already_fresh"`
	Failed       []string `json:"failed"`
}

// Dispatcher fans recon work out to the agent with bounded concurrency.
// The partition is computed once per batch; individual jurisdictions
// are then safe to run in parallel.
type Dispatcher struct {
	cache *Cache
	agent Agent
	limit int
}

// NewDispatcher builds a dispatcher. limit bounds concurrent agent
// invocations; values below 1 mean sequential.
func NewDispatcher(cache *Cache, agent Agent, limit int) *Dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{cache: cache, agent: agent, limit: limit}
}

// Run partitions the jurisdiction set and recons everything that needs
// it. A failed recon writes nothing: the jurisdiction stays missing or
// expired and is retried on the next dispatch cycle.
func (d *Dispatcher) Run(ctx context.Context, jurisdictionIDs []string) (*DispatchResult, error) {
	plan, err := d.cache.DispatchRecon(ctx, jurisdictionIDs)
	if err != nil {
		return nil, err
	}

	result := &DispatchResult{AlreadyFresh: plan.AlreadyFresh}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)

	type outcome struct {
		id string
		ok bool
	}
	outcomes := make([]outcome, len(plan.ToRecon))

	for i, target := range plan.ToRecon {
		g.Go(func() error {
			req := ReconRequest{
				JurisdictionID: target.JurisdictionID,
				Type:           target.Type,
				CorrelationID:  uuid.New().String(),
			}
			log := zap.L().With(
				zap.String("jurisdiction", req.JurisdictionID),
				zap.String("recon_type", string(req.Type)),
				zap.String("correlation_id", req.CorrelationID),
			)

			profile, reconErr := d.agent.ConductRecon(gCtx, req)
			if reconErr != nil {
				log.Warn("capability: recon failed", zap.Error(reconErr))
				outcomes[i] = outcome{id: req.JurisdictionID, ok: false}
				return nil // failures are per-jurisdiction, not batch-fatal
			}

			if _, writeErr := d.cache.WriteProfile(gCtx, req.JurisdictionID, *profile); writeErr != nil {
				log.Error("capability: profile write failed", zap.Error(writeErr))
				outcomes[i] = outcome{id: req.JurisdictionID, ok: false}
				return nil
			}

			log.Info("capability: recon complete")
			outcomes[i] = outcome{id: req.JurisdictionID, ok: true}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	for _, o := range outcomes {
		if o.id == "" {
			continue
		}
		if o.ok {
			result.Reconned = append(result.Reconned, o.id)
		} else {
			result.Failed = append(result.Failed, o.id)
		}
	}
	return result, nil
}

// ReconOrFetch returns a usable profile for one jurisdiction, running
// recon first when the cache says so. The bool reports whether the
// agent was actually invoked, so callers can attribute recon spend.
// This is the pass-2 entry point; the agent failure propagates so the
// orchestrator can apply locked-step semantics.
func (d *Dispatcher) ReconOrFetch(ctx context.Context, jurisdictionID string) (*Profile, bool, error) {
	profile, err := d.cache.GetProfile(ctx, jurisdictionID)
	if err != nil {
		return nil, false, err
	}
	if !d.cache.NeedsRefresh(profile) {
		// Opportunistic pre-warm is the dispatcher's business, not the
		// run's: a profile inside the warning window is still served.
		return profile, false, nil
	}

	req := ReconRequest{
		JurisdictionID: jurisdictionID,
		Type:           ReconFull,
		CorrelationID:  uuid.New().String(),
	}
	if profile != nil {
		req.Type = ReconRefresh
	}

	fresh, err := d.agent.ConductRecon(ctx, req)
	if err != nil {
		if _, ok := err.(*model.AgentFailure); ok {
			return nil, true, err
		}
		return nil, true, &model.AgentFailure{JurisdictionID: jurisdictionID, CorrelationID: req.CorrelationID, Err: err}
	}

	written, err := d.cache.WriteProfile(ctx, jurisdictionID, *fresh)
	return written, true, err
}
