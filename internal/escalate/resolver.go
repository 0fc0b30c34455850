package escalate

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/resilience"
)

// State is the resolver's position in the per-gap state machine:
// PENDING -> TRYING(tier) -> SATISFIED | EXHAUSTED.
type State string

const (
	StatePending   State = "pending"
	StateTrying    State = "trying"
	StateSatisfied State = "satisfied"
	StateExhausted State = "exhausted"
)

// Resolution is the terminal record of one gap's escalation. Attempts
// holds only tiers actually executed, in execution order; SpendUSD is
// exactly their cost sum.
type Resolution struct {
	Gap      model.GapRequest    `json:"gap"`
	State    State               `json:"state"`
	Attempts []model.TierAttempt `json:"attempts"`
	Winner   *model.TierAttempt  `json:"winner,omitempty"`
	SpendUSD float64             `json:"spend_usd"`
}

// Resolved reports whether escalation ended in SATISFIED.
func (r *Resolution) Resolved() bool {
	return r.State == StateSatisfied
}

// Recorder persists tier attempts append-only as they execute, so a
// crash mid-gap never loses a paid action. Optional.
type Recorder interface {
	AppendTierAttempt(ctx context.Context, runID string, gap model.GapRequest, attempt model.TierAttempt) error
}

// Resolver walks the ledger's tier ladder for a gap. Tier attempts for
// a single gap are strictly sequential; independent gaps may resolve
// concurrently via ResolveAll.
type Resolver struct {
	ledger      *ledger.Ledger
	registry    *Registry
	recorder    Recorder
	limiters    map[string]*rate.Limiter
	callTimeout time.Duration
}

// NewResolver builds a resolver over the ledger and provider registry.
func NewResolver(l *ledger.Ledger, reg *Registry) *Resolver {
	return &Resolver{
		ledger:      l,
		registry:    reg,
		limiters:    make(map[string]*rate.Limiter),
		callTimeout: 30 * time.Second,
	}
}

// WithRecorder attaches an append-only attempt recorder.
func (r *Resolver) WithRecorder(rec Recorder) *Resolver {
	r.recorder = rec
	return r
}

// WithLimiter rate-limits one tool; scrape and paid AI tiers get these.
func (r *Resolver) WithLimiter(tool string, l *rate.Limiter) *Resolver {
	r.limiters[tool] = l
	return r
}

// WithCallTimeout sets the per-external-call deadline. Timeouts count
// as failed attempts, not crashes.
func (r *Resolver) WithCallTimeout(d time.Duration) *Resolver {
	r.callTimeout = d
	return r
}

// Resolve runs the state machine for one gap. Failures inside a tier
// are absorbed: the only error returns are ledger misconfiguration and
// context cancellation.
func (r *Resolver) Resolve(ctx context.Context, pass model.Pass, gap model.GapRequest) (*Resolution, error) {
	tiers, err := r.ledger.TiersFor(pass, gap.Kind)
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return nil, model.NewConfigError("escalate: no tiers registered for %s/%s", pass, gap.Kind)
	}

	log := zap.L().With(
		zap.String("run_id", gap.RunID),
		zap.String("gap_kind", string(gap.Kind)),
		zap.String("jurisdiction", gap.JurisdictionID),
	)

	res := &Resolution{Gap: gap, State: StatePending}

	for tierIdx, step := range tiers {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.State = StateTrying

		attempt, err := r.attempt(ctx, tierIdx, step, gap)
		if err != nil {
			// Only cancellation escapes attempt; the abort is recorded
			// before any in-flight write lands.
			return res, err
		}

		res.Attempts = append(res.Attempts, attempt)
		res.SpendUSD += attempt.CostUSD
		if r.recorder != nil {
			if recErr := r.recorder.AppendTierAttempt(ctx, gap.RunID, gap, attempt); recErr != nil {
				log.Warn("escalate: attempt record failed", zap.Error(recErr))
			}
		}

		log.Debug("escalate: tier attempt",
			zap.Int("tier", tierIdx),
			zap.String("tool", step.Name),
			zap.String("outcome", string(attempt.Outcome)),
			zap.Float64("confidence", attempt.Confidence),
		)

		if attempt.Outcome == model.TierOutcomeSuccess {
			winner := attempt
			res.Winner = &winner
			res.State = StateSatisfied
			return res, nil
		}
	}

	// Not retried within the same run; the pass gate decides what an
	// unresolved gap means.
	res.State = StateExhausted
	log.Info("escalate: ladder exhausted",
		zap.Int("attempts", len(res.Attempts)),
		zap.Float64("spend_usd", res.SpendUSD),
	)
	return res, nil
}

// attempt executes one tier and classifies its outcome.
func (r *Resolver) attempt(ctx context.Context, tierIdx int, step ledger.Step, gap model.GapRequest) (model.TierAttempt, error) {
	attempt := model.TierAttempt{
		Tier:     tierIdx,
		Tool:     step.Name,
		ToolType: step.Tool,
		CostUSD:  step.CostUSD,
	}

	provider := r.registry.Get(step.Name)
	if provider == nil {
		// The ledger declared a tool nobody registered. This is a
		// wiring defect, but inside a ladder it degrades to a failed
		// tier so a misconfigured tier never blocks escalation.
		attempt.Outcome = model.TierOutcomeFailed
		attempt.Error = "no provider registered for " + step.Name
		attempt.CostUSD = 0 // nothing was invoked
		return attempt, nil
	}

	if limiter := r.limiters[step.Name]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return attempt, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := provider.Query(callCtx, gap)
	attempt.DurationMS = time.Since(start).Milliseconds()

	if ctx.Err() != nil {
		return attempt, ctx.Err()
	}

	switch {
	case err != nil:
		// RateLimited and Timeout are failed attempts driving
		// escalation, never propagated as crashes.
		attempt.Outcome = model.TierOutcomeFailed
		attempt.Error = err.Error()
		if resilience.IsTimeout(err) {
			attempt.Error = "timeout: " + err.Error()
		}
	case result == nil || result.Outcome == model.TierOutcomeInsufficient:
		attempt.Outcome = model.TierOutcomeInsufficient
		if result != nil {
			attempt.Confidence = result.Confidence
			attempt.Evidence = result.Evidence
		}
	case result.Outcome == model.TierOutcomeFailed:
		attempt.Outcome = model.TierOutcomeFailed
	case result.Confidence >= gap.MinConfidence:
		attempt.Outcome = model.TierOutcomeSuccess
		attempt.Confidence = result.Confidence
		attempt.Evidence = result.Evidence
	default:
		// Data came back but below the bar; keep the evidence for
		// audit and let the next tier try.
		attempt.Outcome = model.TierOutcomeInsufficient
		attempt.Confidence = result.Confidence
		attempt.Evidence = result.Evidence
	}
	return attempt, nil
}

// ResolveAll resolves independent gaps concurrently, bounded by limit.
// Tier attempts within each gap remain strictly sequential.
func (r *Resolver) ResolveAll(ctx context.Context, pass model.Pass, gaps []model.GapRequest, limit int) ([]*Resolution, error) {
	if limit < 1 {
		limit = 1
	}
	resolutions := make([]*Resolution, len(gaps))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, gap := range gaps {
		g.Go(func() error {
			res, err := r.Resolve(gCtx, pass, gap)
			if err != nil {
				return err
			}
			resolutions[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolutions, nil
}
