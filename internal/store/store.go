package store

import (
	"context"

	"github.com/sells-group/sitescope/internal/capability"
	"github.com/sells-group/sitescope/internal/model"
)

// Store defines the persistence interface for the screening pipeline.
// It doubles as the profile store for the capability cache, the attempt
// recorder for the escalation resolver, and the appender behind the
// buffered event sink.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, site model.Site) (*model.OpportunityRecord, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SaveRecord(ctx context.Context, rec *model.OpportunityRecord) error
	GetRun(ctx context.Context, runID string) (*model.OpportunityRecord, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.OpportunityRecord, error)

	// Step outcomes, in execution order per run.
	AppendStepOutcome(ctx context.Context, runID string, step model.StepOutcome) error
	ListStepOutcomes(ctx context.Context, runID string) ([]model.StepOutcome, error)

	// Tier attempts are append-only: written as each escalation tier
	// executes, never updated, never deleted.
	AppendTierAttempt(ctx context.Context, runID string, gap model.GapRequest, attempt model.TierAttempt) error
	ListTierAttempts(ctx context.Context, runID string) ([]model.TierAttempt, error)

	// RunSpend totals every executed paid action for a run: tier
	// attempts plus step-level costs such as agent recon.
	RunSpend(ctx context.Context, runID string) (float64, error)

	// Events
	AppendEvent(ctx context.Context, ev model.Event) error
	ListEvents(ctx context.Context, runID string) ([]model.Event, error)

	// Capability profiles
	GetProfile(ctx context.Context, jurisdictionID string) (*capability.Profile, error)
	UpsertProfile(ctx context.Context, jurisdictionID string, p capability.Profile, expectedVersion int) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
