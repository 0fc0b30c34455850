package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescope/internal/config"
)

func alerterCfg() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.25,
		SpendThresholdUSD:    50.0,
		HeldBacklogThreshold: 25,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(alerterCfg())

	snap := &MetricsSnapshot{
		RunsTotal:     100,
		RunsComplete:  95,
		RunsFailed:    5,
		FailRate:      0.05,
		SpendUSD:      20.0,
		HeldBacklog:   3,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(alerterCfg())

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsComplete:  12,
		RunsFailed:    8,
		FailRate:      0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_FailureRateFloor(t *testing.T) {
	a := NewAlerter(alerterCfg())

	// 1 failed of 2 finished is over threshold but under the floor.
	snap := &MetricsSnapshot{
		RunsComplete:  1,
		RunsFailed:    1,
		FailRate:      0.5,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_SpendOverrun(t *testing.T) {
	a := NewAlerter(alerterCfg())

	snap := &MetricsSnapshot{
		RunsTotal:     40,
		SpendUSD:      81.50,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSpendOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$81.50")
}

func TestAlerter_Evaluate_HeldBacklog(t *testing.T) {
	a := NewAlerter(alerterCfg())

	snap := &MetricsSnapshot{
		HeldBacklog:   30,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertHeldBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(alerterCfg())

	snap := &MetricsSnapshot{
		RunsComplete:  10,
		RunsFailed:    10,
		FailRate:      0.5,
		SpendUSD:      120.0,
		HeldBacklog:   40,
		LookbackHours: 24,
	}

	assert.Len(t, a.Evaluate(snap), 3)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertSpendOverrun, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := alerterCfg()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertSpendOverrun, Severity: "high", Message: "spend"},
	})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := alerterCfg()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "failures"},
	})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(alerterCfg())

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate},
	})
	assert.Zero(t, sent)
}
