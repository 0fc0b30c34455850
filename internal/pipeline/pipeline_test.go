package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescope/internal/capability"
	"github.com/sells-group/sitescope/internal/escalate"
	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/scoring"
	"github.com/sells-group/sitescope/pkg/census"
	"github.com/sells-group/sitescope/pkg/geocode"
)

// memStore is an in-memory store.Store for driver tests.
type memStore struct {
	mu       sync.Mutex
	seq      int
	runs     map[string]*model.OpportunityRecord
	statuses map[string][]model.RunStatus
	steps    map[string][]model.StepOutcome
	attempts map[string][]model.TierAttempt
	events   map[string][]model.Event
	profiles map[string]*capability.Profile
}

func newMemStore() *memStore {
	return &memStore{
		runs:     map[string]*model.OpportunityRecord{},
		statuses: map[string][]model.RunStatus{},
		steps:    map[string][]model.StepOutcome{},
		attempts: map[string][]model.TierAttempt{},
		events:   map[string][]model.Event{},
		profiles: map[string]*capability.Profile{},
	}
}

func (s *memStore) CreateRun(_ context.Context, site model.Site) (*model.OpportunityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec := &model.OpportunityRecord{
		RunID:     fmt.Sprintf("run-%d", s.seq),
		Site:      site,
		Status:    model.RunStatusQueued,
		Decision:  model.DecisionPending,
		CreatedAt: time.Now().UTC(),
	}
	clone := *rec
	s.runs[rec.RunID] = &clone
	return rec, nil
}

func (s *memStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[runID] = append(s.statuses[runID], status)
	return nil
}

func (s *memStore) SaveRecord(_ context.Context, rec *model.OpportunityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.runs[rec.RunID] = &clone
	return nil
}

func (s *memStore) GetRun(_ context.Context, runID string) (*model.OpportunityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "run", Key: runID}
	}
	return rec, nil
}

func (s *memStore) ListRuns(_ context.Context, _ model.RunFilter) ([]model.OpportunityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OpportunityRecord
	for _, rec := range s.runs {
		out = append(out, *rec)
	}
	return out, nil
}

func (s *memStore) AppendStepOutcome(_ context.Context, runID string, step model.StepOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[runID] = append(s.steps[runID], step)
	return nil
}

func (s *memStore) ListStepOutcomes(_ context.Context, runID string) ([]model.StepOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps[runID], nil
}

func (s *memStore) AppendTierAttempt(_ context.Context, runID string, _ model.GapRequest, attempt model.TierAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[runID] = append(s.attempts[runID], attempt)
	return nil
}

func (s *memStore) ListTierAttempts(_ context.Context, runID string) ([]model.TierAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[runID], nil
}

func (s *memStore) RunSpend(_ context.Context, runID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, a := range s.attempts[runID] {
		total += a.CostUSD
	}
	for _, st := range s.steps[runID] {
		total += st.CostUSD
	}
	return total, nil
}

func (s *memStore) AppendEvent(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.RunID] = append(s.events[ev.RunID], ev)
	return nil
}

func (s *memStore) ListEvents(_ context.Context, runID string) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[runID], nil
}

func (s *memStore) GetProfile(_ context.Context, jurisdictionID string) (*capability.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[jurisdictionID], nil
}

func (s *memStore) UpsertProfile(_ context.Context, jurisdictionID string, p capability.Profile, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[jurisdictionID] = &p
	return nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

// scriptedResolver returns canned resolutions per gap kind and records
// their attempts through the store, like the real resolver would.
type scriptedResolver struct {
	st     *memStore
	byKind map[model.DataKind]*escalate.Resolution
	calls  []model.GapRequest
}

func (r *scriptedResolver) Resolve(ctx context.Context, _ model.Pass, gap model.GapRequest) (*escalate.Resolution, error) {
	r.calls = append(r.calls, gap)
	res, ok := r.byKind[gap.Kind]
	if !ok {
		return &escalate.Resolution{Gap: gap, State: escalate.StateExhausted}, nil
	}
	for _, a := range res.Attempts {
		if err := r.st.AppendTierAttempt(ctx, gap.RunID, gap, a); err != nil {
			return nil, err
		}
	}
	out := *res
	out.Gap = gap
	return &out, nil
}

type fakeCensus struct {
	byZip map[string]*census.Demographics
}

func (c *fakeCensus) Demographics(_ context.Context, zip string) (*census.Demographics, error) {
	demo, ok := c.byZip[zip]
	if !ok {
		return nil, errors.New("census unavailable")
	}
	return demo, nil
}

type fakeProfiles struct {
	profile  *capability.Profile
	reconRan bool
	err      error
}

func (f *fakeProfiles) ReconOrFetch(_ context.Context, jurisdictionID string) (*capability.Profile, bool, error) {
	if f.err != nil {
		return nil, f.reconRan, f.err
	}
	p := *f.profile
	p.JurisdictionID = jurisdictionID
	return &p, f.reconRan, nil
}

func strongMarket(zip string) *census.Demographics {
	return &census.Demographics{
		Zip:          zip,
		Year:         2023,
		Population:   150_000,
		MedianIncome: 100_000,
		HousingUnits: 60_000,
	}
}

func satisfiedResolution(kind model.DataKind, tool string, value, confidence, costUSD float64, samples int) *escalate.Resolution {
	attempt := model.TierAttempt{
		Tier:       0,
		Tool:       tool,
		ToolType:   model.ToolDeterministic,
		CostUSD:    costUSD,
		Outcome:    model.TierOutcomeSuccess,
		Confidence: confidence,
		Evidence:   &model.Evidence{Kind: kind, Value: value, SampleSize: samples},
	}
	return &escalate.Resolution{
		State:    escalate.StateSatisfied,
		Attempts: []model.TierAttempt{attempt},
		Winner:   &attempt,
		SpendUSD: costUSD,
	}
}

// rateLadder builds a two-tier street-rate resolution: free survey came
// up short, the AI search satisfied at the given confidence.
func rateLadder(rate, confidence float64) *escalate.Resolution {
	attempts := []model.TierAttempt{
		{Tier: 0, Tool: "osm_rate_survey", ToolType: model.ToolDeterministic, Outcome: model.TierOutcomeInsufficient},
		{Tier: 1, Tool: "ai_rate_search", ToolType: model.ToolLLMTail, CostUSD: 0.01,
			Outcome:    model.TierOutcomeSuccess,
			Confidence: confidence,
			Evidence:   &model.Evidence{Kind: model.DataKindStreetRate, Value: rate, Unit: "usd_per_sqft_month"}},
	}
	winner := attempts[1]
	return &escalate.Resolution{
		State:    escalate.StateSatisfied,
		Attempts: attempts,
		Winner:   &winner,
		SpendUSD: 0.01,
	}
}

func testDeps(st *memStore, zip string, rateConfidence float64) Deps {
	return Deps{
		Zips:   geocode.NewZipResolver(),
		Census: &fakeCensus{byZip: map[string]*census.Demographics{zip: strongMarket(zip)}},
		Resolver: &scriptedResolver{st: st, byKind: map[model.DataKind]*escalate.Resolution{
			model.DataKindCompetitorSet: satisfiedResolution(model.DataKindCompetitorSet, "competitor_enumeration", 300_000, 0.70, 0, 6),
			model.DataKindGrowthRate:    satisfiedResolution(model.DataKindGrowthRate, "growth_estimate", 4.0, 0.60, 0.01, 0),
			model.DataKindStreetRate:    rateLadder(1.40, rateConfidence),
		}},
		Profiles: &fakeProfiles{profile: &capability.Profile{
			Pass2:    capability.MethodSection{Method: "portal", Coverage: 0.9},
			Metadata: capability.Metadata{Version: 3, SchemaVersion: capability.CurrentSchemaVersion},
		}},
		Zoning: NewStaticZoning(),
	}
}

func testDriver(t *testing.T, st *memStore, deps Deps) *Driver {
	t.Helper()
	l, err := ledger.New()
	require.NoError(t, err)
	return NewDriver(st, l, nil, deps, DefaultConfig())
}

func TestDriver_FullRun(t *testing.T) {
	st := newMemStore()
	d := testDriver(t, st, testDeps(st, "28801", 0.80))

	rec, err := d.Run(context.Background(), model.Site{Zip: "28801", AcreageGross: 3.0})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusComplete, rec.Status)
	require.Len(t, rec.Gates, 5)
	for _, g := range rec.Gates[:4] {
		assert.True(t, g.Passed, "gate %s", g.Pass)
	}

	// The final verdict must agree with the doctrine cut lines.
	final := rec.Gates[4]
	assert.True(t, final.Passed)
	assert.Equal(t, scoring.Decide(rec.FinalScore, false, DefaultConfig().Thresholds), final.Outcome)
	assert.Equal(t, final.Outcome, rec.Decision)
	assert.Greater(t, rec.FinalScore, 0.0)

	// Sections from every pass.
	require.NotNil(t, rec.ZipHydration)
	assert.Equal(t, "nc-buncombe", rec.ZipHydration.JurisdictionID)
	assert.Equal(t, geoSourceCentroid, rec.ZipHydration.GeocodeSource)
	require.NotNil(t, rec.Demand)
	assert.InDelta(t, 100.0, rec.Demand.DemandScore, 0.01)
	assert.InDelta(t, 100.0, rec.Demand.HotspotScore, 0.01)
	require.NotNil(t, rec.Supply)
	assert.InDelta(t, 2.0, rec.Supply.SqftPerCapita, 0.001)
	assert.InDelta(t, scoring.SaturationScore(2.0), rec.Supply.SaturationScore, 0.001)
	require.NotNil(t, rec.RateEvidence)
	assert.True(t, rec.RateEvidence.Resolved)
	assert.Equal(t, "ai_rate_search", rec.RateEvidence.Source)
	assert.Len(t, rec.RateEvidence.Attempts, 2)
	require.NotNil(t, rec.Jurisdiction)
	assert.True(t, rec.Jurisdiction.EnvelopeComplete)
	require.NotNil(t, rec.Financial)
	assert.Greater(t, rec.Financial.BuildCost.TotalUSD, 0.0)

	// Spend: growth tail + rate-search tail, recon served from cache.
	assert.InDelta(t, 0.02, rec.SpendUSD, 0.0001)

	// Every ledger step accounted for, in execution order.
	outcomes, err := st.ListStepOutcomes(context.Background(), rec.RunID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 24)
	assert.Equal(t, "zip_hydration", outcomes[0].Name)
	assert.Equal(t, []model.RunStatus{
		model.RunStatusIntake,
		model.RunStatusMarket,
		model.RunStatusRateFill,
		model.RunStatusScreening,
		model.RunStatusFinancial,
	}, st.statuses[rec.RunID])
}

func TestDriver_ProvidedCoordinatesWin(t *testing.T) {
	st := newMemStore()
	d := testDriver(t, st, testDeps(st, "28801", 0.80))

	rec, err := d.Run(context.Background(), model.Site{
		Zip: "28801", Latitude: 35.60, Longitude: -82.55,
	})
	require.NoError(t, err)
	assert.Equal(t, geoSourceProvided, rec.ZipHydration.GeocodeSource)
	assert.Equal(t, 1.0, rec.ZipHydration.GeocodeConfidence)
	assert.Equal(t, 35.60, rec.ZipHydration.Latitude)
}

func TestDriver_WalkOnUnknownZip(t *testing.T) {
	st := newMemStore()
	d := testDriver(t, st, testDeps(st, "28801", 0.80))

	rec, err := d.Run(context.Background(), model.Site{Zip: "99999"})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusWalked, rec.Status)
	assert.Equal(t, model.DecisionWalk, rec.Decision)
	require.Len(t, rec.Gates, 1)
	assert.Contains(t, rec.Gates[0].Reasons[0], "99999")
	assert.Nil(t, rec.Demand)

	outcomes, err := st.ListStepOutcomes(context.Background(), rec.RunID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, model.StepStatusFailed, outcomes[0].Status)
	assert.Equal(t, model.StepStatusSkipped, outcomes[1].Status)
	assert.Equal(t, model.StepStatusSkipped, outcomes[2].Status)
}

func TestDriver_WalkOnThinMarket(t *testing.T) {
	st := newMemStore()
	deps := testDeps(st, "28801", 0.80)
	deps.Census = &fakeCensus{byZip: map[string]*census.Demographics{
		"28801": {Zip: "28801", Year: 2023, Population: 8_000, MedianIncome: 40_000, HousingUnits: 3_500},
	}}
	d := testDriver(t, st, deps)

	rec, err := d.Run(context.Background(), model.Site{Zip: "28801"})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusWalked, rec.Status)
	gate := rec.GateFor(model.PassMarket)
	require.NotNil(t, gate)
	assert.False(t, gate.Passed)
	assert.Contains(t, gate.Reasons[0], "population")
	assert.Nil(t, rec.RateEvidence, "no rate spend on a walked market")
}

func TestDriver_RateConfidenceBands(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		status     model.RunStatus
		decision   model.Decision
	}{
		// The promote bar is inclusive: 0.70 exactly advances.
		{"at promote bar", 0.70, model.RunStatusComplete, ""},
		{"between bars holds", 0.62, model.RunStatusHeld, model.DecisionHold},
		{"below hold bar walks", 0.30, model.RunStatusWalked, model.DecisionWalk},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			d := testDriver(t, st, testDeps(st, "28801", tc.confidence))

			rec, err := d.Run(context.Background(), model.Site{Zip: "28801"})
			require.NoError(t, err)

			gate := rec.GateFor(model.PassRateEvidence)
			require.NotNil(t, gate)
			if tc.decision == "" {
				assert.True(t, gate.Passed)
				assert.NotNil(t, rec.Financial)
				return
			}
			assert.False(t, gate.Passed)
			assert.Equal(t, tc.decision, gate.Outcome)
			assert.Equal(t, tc.status, rec.Status)
			assert.Nil(t, rec.Jurisdiction, "held and walked runs never reach pass 2")
		})
	}
}

func TestDriver_FatalProhibitionForcesNoGo(t *testing.T) {
	st := newMemStore()
	// 29403 sits in sc-charleston, whose overlay prohibits storage with
	// no variance path. The strong market must not rescue it.
	d := testDriver(t, st, testDeps(st, "29403", 0.80))

	rec, err := d.Run(context.Background(), model.Site{Zip: "29403"})
	require.NoError(t, err)

	assert.Equal(t, model.DecisionNoGo, rec.Decision)
	assert.Equal(t, model.RunStatusComplete, rec.Status)
	assert.Nil(t, rec.Financial, "no financial model after a fatal prohibition")

	gate := rec.GateFor(model.PassJurisdiction)
	require.NotNil(t, gate)
	assert.False(t, gate.Passed)
	assert.Equal(t, model.DecisionNoGo, gate.Outcome)
	assert.Contains(t, gate.Reasons[0], "prohibited")
	assert.True(t, rec.Jurisdiction.FatalProhibition)
}

func TestDriver_IncompleteEnvelopeHolds(t *testing.T) {
	st := newMemStore()
	// 31401 is ga-chatham, whose ordinance leaves height unstated.
	d := testDriver(t, st, testDeps(st, "31401", 0.80))

	rec, err := d.Run(context.Background(), model.Site{Zip: "31401"})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusHeld, rec.Status)
	assert.Equal(t, model.DecisionHold, rec.Decision)
	assert.False(t, rec.Jurisdiction.EnvelopeComplete)
	assert.False(t, rec.Jurisdiction.FatalProhibition)
}

func TestDriver_AgentFailureHoldsRun(t *testing.T) {
	st := newMemStore()
	deps := testDeps(st, "28801", 0.80)
	deps.Profiles = &fakeProfiles{
		reconRan: true,
		err: &model.AgentFailure{
			JurisdictionID: "nc-buncombe",
			CorrelationID:  "corr-9",
			Err:            errors.New("portal unreachable"),
		},
	}
	d := testDriver(t, st, deps)

	rec, err := d.Run(context.Background(), model.Site{Zip: "28801"})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusHeld, rec.Status)
	assert.Equal(t, model.DecisionHold, rec.Decision)
	gate := rec.GateFor(model.PassJurisdiction)
	require.NotNil(t, gate)
	assert.Contains(t, gate.Reasons[0], "recon failed")

	// The failed agent invocation is persisted with its cost: the agent
	// ran even though it produced nothing.
	outcomes, err := st.ListStepOutcomes(context.Background(), rec.RunID)
	require.NoError(t, err)
	var recon *model.StepOutcome
	for i := range outcomes {
		if outcomes[i].Name == "capability_recon" {
			recon = &outcomes[i]
		}
	}
	require.NotNil(t, recon)
	assert.Equal(t, model.StepStatusFailed, recon.Status)
	assert.Equal(t, 2.00, recon.CostUSD)
	assert.InDelta(t, 2.02, rec.SpendUSD, 0.0001)
}

func TestDriver_CensusFailureFailsRun(t *testing.T) {
	st := newMemStore()
	deps := testDeps(st, "28801", 0.80)
	deps.Census = &fakeCensus{byZip: map[string]*census.Demographics{}}
	d := testDriver(t, st, deps)

	rec, err := d.Run(context.Background(), model.Site{Zip: "28801"})
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, rec.Status)
}

func TestDriver_CancellationAborts(t *testing.T) {
	st := newMemStore()
	d := testDriver(t, st, testDeps(st, "28801", 0.80))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := d.Run(ctx, model.Site{Zip: "28801"})
	require.Error(t, err)
	assert.Equal(t, model.RunStatusAborted, rec.Status)
}
