package escalate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/resilience"
)

// scriptedProvider returns a canned result or error for every query.
type scriptedProvider struct {
	name    string
	result  *Result
	err     error
	mu      sync.Mutex
	queries int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Query(context.Context, model.GapRequest) (*Result, error) {
	p.mu.Lock()
	p.queries++
	p.mu.Unlock()
	return p.result, p.err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

// rateLadder registers the four street-rate tools from the doctrine
// ledger. In declared escalation order they are: osm_rate_survey (0),
// ai_rate_search (0.01), competitor_scrape (0), ai_rate_call (0.50).
func rateLadder(t *testing.T, providers ...*scriptedProvider) (*Resolver, *Registry) {
	t.Helper()
	l, err := ledger.New()
	require.NoError(t, err)
	reg := NewRegistry()
	for _, p := range providers {
		reg.Register(p)
	}
	return NewResolver(l, reg), reg
}

func streetRateGap(minConf float64) model.GapRequest {
	return model.GapRequest{
		RunID:          "run-1",
		Zip:            "78701",
		JurisdictionID: "48453",
		Kind:           model.DataKindStreetRate,
		MinConfidence:  minConf,
	}
}

func insufficient() *Result {
	return &Result{Outcome: model.TierOutcomeInsufficient}
}

func success(conf float64) *Result {
	return &Result{
		Outcome:    model.TierOutcomeSuccess,
		Confidence: conf,
		Evidence:   &model.Evidence{Kind: model.DataKindStreetRate, Value: 1.42, Unit: "usd_per_sqft"},
	}
}

func TestResolve_FirstTierWins(t *testing.T) {
	osm := &scriptedProvider{name: "osm_rate_survey", result: success(0.9)}
	scrape := &scriptedProvider{name: "competitor_scrape", result: success(0.9)}
	r, _ := rateLadder(t, osm, scrape,
		&scriptedProvider{name: "ai_rate_search", result: success(0.9)},
		&scriptedProvider{name: "ai_rate_call", result: success(0.9)},
	)

	res, err := r.Resolve(context.Background(), model.PassRateEvidence, streetRateGap(0.7))
	require.NoError(t, err)

	assert.Equal(t, StateSatisfied, res.State)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "osm_rate_survey", res.Attempts[0].Tool)
	assert.Zero(t, res.SpendUSD)
	assert.Zero(t, scrape.calls(), "no tier runs once an earlier tier satisfied")
}

func TestResolve_StopsAtSatisfyingTier(t *testing.T) {
	// The free survey comes up empty; the cheap AI search satisfies at
	// 0.80 against min confidence 0.70. The tiers above it never run.
	scrape := &scriptedProvider{name: "competitor_scrape", result: success(0.90)}
	call := &scriptedProvider{name: "ai_rate_call", result: success(0.99)}
	r, _ := rateLadder(t,
		&scriptedProvider{name: "osm_rate_survey", result: insufficient()},
		&scriptedProvider{name: "ai_rate_search", result: success(0.80)},
		scrape,
		call,
	)

	res, err := r.Resolve(context.Background(), model.PassRateEvidence, streetRateGap(0.70))
	require.NoError(t, err)

	assert.Equal(t, StateSatisfied, res.State)
	require.Len(t, res.Attempts, 2)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "ai_rate_search", res.Winner.Tool)
	assert.Equal(t, 1, res.Winner.Tier)
	assert.InDelta(t, 0.01, res.SpendUSD, 1e-9, "spend is the sum of executed tiers only")
	assert.Zero(t, scrape.calls())
	assert.Zero(t, call.calls())
}

func TestResolve_WalksDeclaredOrder(t *testing.T) {
	r, _ := rateLadder(t,
		&scriptedProvider{name: "osm_rate_survey", result: insufficient()},
		&scriptedProvider{name: "competitor_scrape", result: insufficient()},
		&scriptedProvider{name: "ai_rate_search", result: insufficient()},
		&scriptedProvider{name: "ai_rate_call", result: insufficient()},
	)

	res, err := r.Resolve(context.Background(), model.PassRateEvidence, streetRateGap(0.7))
	require.NoError(t, err)

	// The doctrine's declared indices drive the walk: the cheap AI
	// search runs before the free competitor scrape.
	require.Len(t, res.Attempts, 4)
	want := []string{"osm_rate_survey", "ai_rate_search", "competitor_scrape", "ai_rate_call"}
	for i, a := range res.Attempts {
		assert.Equal(t, want[i], a.Tool)
		assert.Equal(t, i, a.Tier)
	}
}

func TestResolve_LowConfidenceKeepsEscalating(t *testing.T) {
	r, _ := rateLadder(t,
		&scriptedProvider{name: "osm_rate_survey", result: success(0.40)}, // below the bar
		&scriptedProvider{name: "competitor_scrape", result: success(0.90)},
		&scriptedProvider{name: "ai_rate_search", result: success(0.95)},
		&scriptedProvider{name: "ai_rate_call", result: success(0.99)},
	)

	res, err := r.Resolve(context.Background(), model.PassRateEvidence, streetRateGap(0.70))
	require.NoError(t, err)

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, model.TierOutcomeInsufficient, res.Attempts[0].Outcome)
	assert.NotNil(t, res.Attempts[0].Evidence, "sub-threshold evidence retained for audit")
	assert.Equal(t, "ai_rate_search", res.Winner.Tool)
}

func TestResolve_ProviderErrorIsFailedAttempt(t *testing.T) {
	r, _ := rateLadder(t,
		&scriptedProvider{name: "osm_rate_survey", err: &resilience.RateLimitedError{Service: "overpass"}},
		&scriptedProvider{name: "ai_rate_search", err: errors.New("blocked")},
		&scriptedProvider{name: "competitor_scrape", result: success(0.85)},
		&scriptedProvider{name: "ai_rate_call", result: success(0.99)},
	)

	res, err := r.Resolve(context.Background(), model.PassRateEvidence, streetRateGap(0.70))
	require.NoError(t, err)

	require.Len(t, res.Attempts, 3)
	assert.Equal(t, model.TierOutcomeFailed, res.Attempts[0].Outcome)
	assert.Equal(t, model.TierOutcomeFailed, res.Attempts[1].Outcome)
	assert.Equal(t, StateSatisfied, res.State)
}

func TestResolve_Exhausted(t *testing.T) {
	r, _ := rateLadder(t,
		&scriptedProvider{name: "osm_rate_survey", result: insufficient()},
		&scriptedProvider{name: "competitor_scrape", result: insufficient()},
		&scriptedProvider{name: "ai_rate_search", result: insufficient()},
		&scriptedProvider{name: "ai_rate_call", result: insufficient()},
	)

	res, err := r.Resolve(context.Background(), model.PassRateEvidence, streetRateGap(0.7))
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, res.State)
	assert.Nil(t, res.Winner)
	assert.Len(t, res.Attempts, 4)
	assert.InDelta(t, 0.51, res.SpendUSD, 1e-9)
}

func TestResolve_MissingProviderIsFreeFailedTier(t *testing.T) {
	r, _ := rateLadder(t,
		&scriptedProvider{name: "competitor_scrape", result: success(0.9)},
	)

	res, err := r.Resolve(context.Background(), model.PassRateEvidence, streetRateGap(0.7))
	require.NoError(t, err)

	require.Len(t, res.Attempts, 3)
	assert.Equal(t, model.TierOutcomeFailed, res.Attempts[0].Outcome)
	assert.Zero(t, res.Attempts[0].CostUSD, "unregistered tool invoked nothing")
	assert.Equal(t, model.TierOutcomeFailed, res.Attempts[1].Outcome)
	assert.Zero(t, res.Attempts[1].CostUSD)
	assert.Equal(t, StateSatisfied, res.State)
}

func TestResolve_NoTiersIsConfigError(t *testing.T) {
	r, _ := rateLadder(t)

	_, err := r.Resolve(context.Background(), model.PassIntake, model.GapRequest{Kind: model.DataKindStreetRate})
	require.Error(t, err)
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

type captureRecorder struct {
	mu       sync.Mutex
	attempts []model.TierAttempt
}

func (c *captureRecorder) AppendTierAttempt(_ context.Context, _ string, _ model.GapRequest, a model.TierAttempt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, a)
	return nil
}

func TestResolve_RecorderSeesEveryAttempt(t *testing.T) {
	rec := &captureRecorder{}
	r, _ := rateLadder(t,
		&scriptedProvider{name: "osm_rate_survey", result: insufficient()},
		&scriptedProvider{name: "competitor_scrape", result: insufficient()},
		&scriptedProvider{name: "ai_rate_search", result: success(0.9)},
		&scriptedProvider{name: "ai_rate_call", result: success(0.99)},
	)
	r.WithRecorder(rec)

	res, err := r.Resolve(context.Background(), model.PassRateEvidence, streetRateGap(0.7))
	require.NoError(t, err)
	assert.Equal(t, len(res.Attempts), len(rec.attempts))
}

func TestResolveAll_IndependentGaps(t *testing.T) {
	r, _ := rateLadder(t,
		&scriptedProvider{name: "osm_rate_survey", result: success(0.9)},
		&scriptedProvider{name: "competitor_scrape", result: success(0.9)},
		&scriptedProvider{name: "ai_rate_search", result: success(0.9)},
		&scriptedProvider{name: "ai_rate_call", result: success(0.9)},
	)

	gaps := []model.GapRequest{
		{RunID: "run-1", Zip: "78701", JurisdictionID: "48453", Kind: model.DataKindStreetRate, MinConfidence: 0.7},
		{RunID: "run-1", Zip: "78704", JurisdictionID: "48021", Kind: model.DataKindStreetRate, MinConfidence: 0.7},
		{RunID: "run-1", Zip: "30301", JurisdictionID: "13121", Kind: model.DataKindStreetRate, MinConfidence: 0.7},
	}

	resolutions, err := r.ResolveAll(context.Background(), model.PassRateEvidence, gaps, 2)
	require.NoError(t, err)
	require.Len(t, resolutions, 3)
	for i, res := range resolutions {
		require.NotNil(t, res, "gap %d", i)
		assert.Equal(t, gaps[i].JurisdictionID, res.Gap.JurisdictionID)
		assert.Equal(t, StateSatisfied, res.State)
	}
}
