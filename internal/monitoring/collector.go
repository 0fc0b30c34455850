// Package monitoring watches screening run health: failure rates, paid
// spend, and the held-run backlog. A background checker evaluates
// periodic snapshots against thresholds and raises webhook alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescope/internal/model"
)

// MetricsSnapshot holds a point-in-time view of screening health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsWalked   int     `json:"runs_walked"`
	RunsHeld     int     `json:"runs_held"`
	RunsFailed   int     `json:"runs_failed"`
	FailRate     float64 `json:"fail_rate"`
	SpendUSD     float64 `json:"spend_usd"`
	AvgScore     float64 `json:"avg_score"`

	// Decision tallies for completed runs.
	GoCount    int `json:"go_count"`
	NoGoCount  int `json:"no_go_count"`
	MaybeCount int `json:"maybe_count"`

	// HeldBacklog counts held runs regardless of window; holds are
	// retryable and pile up until someone re-dispatches them.
	HeldBacklog int `json:"held_backlog"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the store methods needed by the collector.
type RunLister interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.OpportunityRecord, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	store RunLister
	now   func() time.Time // injectable for testing
}

// NewCollector creates a metrics collector over the run store.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// WithNow fixes the clock for testing.
func (c *Collector) WithNow(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Collect gathers a snapshot of screening metrics over the lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   c.now().UTC(),
	}

	cutoff := c.now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, model.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var totalScore float64
	var scoredRuns int

	for _, r := range runs {
		if r.Status == model.RunStatusHeld {
			snap.HeldBacklog++
		}
		if r.CreatedAt.Before(cutoff) {
			continue
		}

		snap.RunsTotal++
		snap.SpendUSD += r.SpendUSD

		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusWalked:
			snap.RunsWalked++
		case model.RunStatusHeld:
			snap.RunsHeld++
		case model.RunStatusFailed:
			snap.RunsFailed++
		}

		switch r.Decision {
		case model.DecisionGo:
			snap.GoCount++
		case model.DecisionNoGo:
			snap.NoGoCount++
		case model.DecisionMaybe:
			snap.MaybeCount++
		}

		if r.Status == model.RunStatusComplete {
			totalScore += r.FinalScore
			scoredRuns++
		}
	}

	// Failures measure against runs that actually ended, not the
	// walked/held ones that stopped on purpose.
	finished := snap.RunsComplete + snap.RunsFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if scoredRuns > 0 {
		snap.AvgScore = totalScore / float64(scoredRuns)
	}

	return snap, nil
}
