package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(&mockStore{})
	alerter := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.25,
	})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let it tick once then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Good — Run returned.
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_CheckCollectError(t *testing.T) {
	collector := NewCollector(&mockStore{err: assert.AnError})
	alerter := NewAlerter(config.MonitoringConfig{})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{LookbackWindowHours: 24})

	// Collection errors are logged, never panic the checker loop.
	checker.check(context.Background(), zap.NewNop())
}

func TestChecker_CheckNoAlerts(t *testing.T) {
	collector := NewCollector(&mockStore{})
	alerter := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{LookbackWindowHours: 24})

	checker.check(context.Background(), zap.NewNop())
}
