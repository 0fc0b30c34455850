// Package pipeline orchestrates the screening passes: intake, market
// recon, rate-evidence gap fill, jurisdiction screen, and the financial
// model. The driver owns the opportunity record for the duration of a
// run; each pass appends its section, executes its ledger steps in
// order, and ends with a gate verdict that either promotes the run or
// halts it.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/capability"
	"github.com/sells-group/sitescope/internal/escalate"
	"github.com/sells-group/sitescope/internal/events"
	"github.com/sells-group/sitescope/internal/finance"
	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/scoring"
	"github.com/sells-group/sitescope/internal/store"
	"github.com/sells-group/sitescope/pkg/census"
	"github.com/sells-group/sitescope/pkg/geocode"
)

// ZipLookup resolves a zip code to its reference row.
type ZipLookup interface {
	Lookup(zip string) (*geocode.ZipInfo, error)
}

// CensusClient pulls ACS demographics for one zip.
type CensusClient interface {
	Demographics(ctx context.Context, zip string) (*census.Demographics, error)
}

// GapResolver walks the escalation ladder for one data gap.
type GapResolver interface {
	Resolve(ctx context.Context, pass model.Pass, gap model.GapRequest) (*escalate.Resolution, error)
}

// ProfileSource yields a capability profile for a jurisdiction, running
// agent recon when the cached profile is missing or stale. The bool
// reports whether the agent was actually invoked.
type ProfileSource interface {
	ReconOrFetch(ctx context.Context, jurisdictionID string) (*capability.Profile, bool, error)
}

// ZoningSource answers zoning-envelope lookups per jurisdiction.
type ZoningSource interface {
	Envelope(jurisdictionID string) (*ZoningEnvelope, bool)
}

// Config carries the gate thresholds and modeling defaults for a run.
type Config struct {
	// Pass-1 gate: markets thinner than this never justify rate spend.
	MinPopulation   int
	MinHotspotScore float64

	// Pass-1.5 gate bands, on composed rate confidence in [0,1].
	// At or above promote the run advances; at or above hold it parks
	// for review; below hold it walks.
	RatePromoteConfidence float64
	RateHoldConfidence    float64

	// Confidence bar for pass-1 gap fills (competitor set, growth).
	GapMinConfidence float64

	// Financial model defaults.
	CostPerSqft        float64
	DefaultCoverage    float64 // site coverage when zoning sets no cap
	RentableEfficiency float64 // net rentable share of building footprint
	DefaultAcreage     float64 // when intake carries no acreage

	Thresholds  scoring.Thresholds
	Assumptions finance.Assumptions
}

// DefaultConfig returns the doctrine configuration.
func DefaultConfig() Config {
	return Config{
		MinPopulation:         10_000,
		MinHotspotScore:       60,
		RatePromoteConfidence: 0.70,
		RateHoldConfidence:    0.50,
		GapMinConfidence:      0.50,
		CostPerSqft:           85,
		DefaultCoverage:       0.40,
		RentableEfficiency:    0.75,
		DefaultAcreage:        2.5,
		Thresholds:            scoring.DefaultThresholds(),
		Assumptions:           finance.DefaultAssumptions(),
	}
}

// Deps are the external collaborators the driver screens with.
type Deps struct {
	Zips     ZipLookup
	Geocoder geocode.Client // optional; nil falls back to zip centroids
	Census   CensusClient
	Resolver GapResolver
	Profiles ProfileSource
	Zoning   ZoningSource
}

// Driver runs the full screening pipeline for one site at a time. It is
// safe for concurrent use: all per-run state lives on the record.
type Driver struct {
	store  store.Store
	ledger *ledger.Ledger
	sink   events.Sink
	deps   Deps
	cfg    Config
}

// NewDriver wires a pipeline driver.
func NewDriver(st store.Store, l *ledger.Ledger, sink events.Sink, deps Deps, cfg Config) *Driver {
	if sink == nil {
		sink = events.ZapSink{}
	}
	return &Driver{store: st, ledger: l, sink: sink, deps: deps, cfg: cfg}
}

// Run screens one site end to end. The returned record reflects
// wherever the run ended: a terminal decision, a hold, or a failure.
// Only infrastructure errors and cancellation come back as err; gate
// outcomes are data, not errors.
func (d *Driver) Run(ctx context.Context, site model.Site) (*model.OpportunityRecord, error) {
	rec, err := d.store.CreateRun(ctx, site)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	log := zap.L().With(zap.String("run_id", rec.RunID), zap.String("zip", site.Zip))
	log.Info("pipeline: run started")

	for pass := model.PassIntake; pass != ""; pass = pass.Next() {
		if ctx.Err() != nil {
			return rec, d.abort(rec, pass, ctx.Err())
		}
		d.setStatus(ctx, rec, runningStatus(pass))

		verdict, err := d.runPass(ctx, pass, rec)
		if err != nil {
			if ctx.Err() != nil {
				return rec, d.abort(rec, pass, err)
			}
			d.fail(rec, pass, err)
			return rec, err
		}

		rec.Gates = append(rec.Gates, verdict)
		applyVerdict(rec, verdict)
		if !verdict.Passed {
			break
		}
		if pass == model.PassFinancial {
			rec.Status = model.RunStatusComplete
		}
	}

	if spend, err := d.store.RunSpend(ctx, rec.RunID); err != nil {
		log.Warn("pipeline: spend rollup failed", zap.Error(err))
	} else {
		rec.SpendUSD = spend
	}

	rec.UpdatedAt = time.Now().UTC()
	if err := d.store.SaveRecord(ctx, rec); err != nil {
		return rec, eris.Wrap(err, "pipeline: save record")
	}

	log.Info("pipeline: run finished",
		zap.String("status", string(rec.Status)),
		zap.String("decision", string(rec.Decision)),
		zap.Float64("final_score", rec.FinalScore),
		zap.Float64("spend_usd", rec.SpendUSD),
	)
	return rec, nil
}

func (d *Driver) runPass(ctx context.Context, pass model.Pass, rec *model.OpportunityRecord) (model.GateVerdict, error) {
	steps, err := d.ledger.StepsFor(pass)
	if err != nil {
		return model.GateVerdict{}, err
	}
	r := &stepRunner{driver: d, runID: rec.RunID}

	var verdict model.GateVerdict
	switch pass {
	case model.PassIntake:
		verdict, err = d.runIntake(ctx, r, steps, rec)
	case model.PassMarket:
		verdict, err = d.runMarket(ctx, r, steps, rec)
	case model.PassRateEvidence:
		verdict, err = d.runRateEvidence(ctx, r, steps, rec)
	case model.PassJurisdiction:
		verdict, err = d.runJurisdiction(ctx, r, steps, rec)
	case model.PassFinancial:
		verdict, err = d.runFinancial(ctx, r, steps, rec)
	default:
		return model.GateVerdict{}, model.NewConfigError("pipeline: unknown pass %s", pass)
	}
	if err != nil {
		return verdict, err
	}

	d.sink.Emit(events.New(rec.RunID, pass, "pass_completed", map[string]any{
		"steps":   r.outcomes,
		"verdict": verdict,
	}))
	return verdict, nil
}

// abort records cancellation as a terminal event before the record is
// parked. The save runs on a fresh context: the run's own context is
// already dead.
func (d *Driver) abort(rec *model.OpportunityRecord, pass model.Pass, cause error) error {
	d.sink.Emit(events.New(rec.RunID, pass, "run_aborted", map[string]any{
		"cause": cause.Error(),
	}))
	rec.Status = model.RunStatusAborted
	rec.UpdatedAt = time.Now().UTC()

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.SaveRecord(saveCtx, rec); err != nil {
		zap.L().Error("pipeline: abort save failed",
			zap.String("run_id", rec.RunID), zap.Error(err))
	}
	return cause
}

func (d *Driver) fail(rec *model.OpportunityRecord, pass model.Pass, cause error) {
	zap.L().Error("pipeline: pass failed",
		zap.String("run_id", rec.RunID),
		zap.String("pass", string(pass)),
		zap.Error(cause),
	)
	d.sink.Emit(events.New(rec.RunID, pass, "run_failed", map[string]any{
		"cause": cause.Error(),
	}))
	rec.Status = model.RunStatusFailed
	rec.UpdatedAt = time.Now().UTC()
	if err := d.store.SaveRecord(context.Background(), rec); err != nil {
		zap.L().Error("pipeline: failure save failed",
			zap.String("run_id", rec.RunID), zap.Error(err))
	}
}

func (d *Driver) setStatus(ctx context.Context, rec *model.OpportunityRecord, status model.RunStatus) {
	rec.Status = status
	if err := d.store.UpdateRunStatus(ctx, rec.RunID, status); err != nil {
		zap.L().Warn("pipeline: status update failed",
			zap.String("run_id", rec.RunID), zap.Error(err))
	}
}

func runningStatus(pass model.Pass) model.RunStatus {
	switch pass {
	case model.PassIntake:
		return model.RunStatusIntake
	case model.PassMarket:
		return model.RunStatusMarket
	case model.PassRateEvidence:
		return model.RunStatusRateFill
	case model.PassJurisdiction:
		return model.RunStatusScreening
	case model.PassFinancial:
		return model.RunStatusFinancial
	default:
		return model.RunStatusQueued
	}
}

func applyVerdict(rec *model.OpportunityRecord, v model.GateVerdict) {
	if v.Outcome == "" {
		return
	}
	rec.Decision = v.Outcome
	switch v.Outcome {
	case model.DecisionWalk:
		rec.Status = model.RunStatusWalked
	case model.DecisionHold:
		rec.Status = model.RunStatusHeld
	default:
		rec.Status = model.RunStatusComplete
	}
}

// Gate constructors.

func promote(pass model.Pass) model.GateVerdict {
	return model.GateVerdict{Pass: pass, Passed: true, PromotedTo: pass.Next()}
}

func walk(pass model.Pass, reasons ...string) model.GateVerdict {
	return model.GateVerdict{Pass: pass, Passed: false, Outcome: model.DecisionWalk, Reasons: reasons}
}

func hold(pass model.Pass, reasons ...string) model.GateVerdict {
	return model.GateVerdict{Pass: pass, Passed: false, Outcome: model.DecisionHold, Reasons: reasons}
}

// stepRunner executes ledger steps in order and persists each outcome
// as it lands, so a crash mid-pass never loses an executed step.
type stepRunner struct {
	driver   *Driver
	runID    string
	outcomes []model.StepOutcome
}

// exec runs one step body. The body returns event metadata plus an
// error; failures are recorded and returned for the caller's locked-step
// handling. Paid agent steps must land in the store before the pass
// proceeds; for everything else a failed write only logs.
func (r *stepRunner) exec(ctx context.Context, step ledger.Step, fn func(ctx context.Context) (map[string]any, error)) error {
	out := model.StepOutcome{
		Pass:      step.Pass,
		StepIndex: step.StepIndex,
		Name:      step.Name,
		Tool:      step.Tool,
		Status:    model.StepStatusComplete,
	}

	start := time.Now()
	meta, err := fn(ctx)
	out.DurationMS = time.Since(start).Milliseconds()
	out.Metadata = meta

	if err != nil {
		out.Status = model.StepStatusFailed
		out.Error = err.Error()
	}
	if recErr := r.record(ctx, out); recErr != nil && step.Tool == model.ToolExternalAgent {
		return eris.Wrap(recErr, "pipeline: persist agent step outcome")
	}
	return err
}

// execCost is exec for steps whose body reports an incurred cost, such
// as agent recon that may or may not actually invoke the agent.
func (r *stepRunner) execCost(ctx context.Context, step ledger.Step, fn func(ctx context.Context) (float64, map[string]any, error)) error {
	out := model.StepOutcome{
		Pass:      step.Pass,
		StepIndex: step.StepIndex,
		Name:      step.Name,
		Tool:      step.Tool,
		Status:    model.StepStatusComplete,
	}

	start := time.Now()
	cost, meta, err := fn(ctx)
	out.DurationMS = time.Since(start).Milliseconds()
	out.CostUSD = cost
	out.Metadata = meta

	if err != nil {
		out.Status = model.StepStatusFailed
		out.Error = err.Error()
	}
	if recErr := r.record(ctx, out); recErr != nil && step.Tool == model.ToolExternalAgent {
		return eris.Wrap(recErr, "pipeline: persist agent step outcome")
	}
	return err
}

// skip records a step that never ran, with the reason it was bypassed.
func (r *stepRunner) skip(ctx context.Context, step ledger.Step, reason string) {
	out := model.StepOutcome{
		Pass:      step.Pass,
		StepIndex: step.StepIndex,
		Name:      step.Name,
		Tool:      step.Tool,
		Status:    model.StepStatusSkipped,
		Metadata:  map[string]any{"reason": reason},
	}
	r.record(ctx, out) //nolint:errcheck
}

// skipRemaining marks every step from idx onward as skipped.
func (r *stepRunner) skipRemaining(ctx context.Context, steps []ledger.Step, idx int, reason string) {
	for _, step := range steps[idx:] {
		r.skip(ctx, step, reason)
	}
}

func (r *stepRunner) record(ctx context.Context, out model.StepOutcome) error {
	r.outcomes = append(r.outcomes, out)
	if err := r.driver.store.AppendStepOutcome(ctx, r.runID, out); err != nil {
		zap.L().Warn("pipeline: step outcome write failed",
			zap.String("run_id", r.runID),
			zap.String("step", out.Name),
			zap.Error(err),
		)
		return err
	}
	return nil
}
