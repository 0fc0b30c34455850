package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on a timer and raises alerts through the
// configured webhook. It runs alongside the webhook server.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{collector: collector, alerter: alerter, cfg: cfg}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run blocks until ctx is cancelled, checking run health every interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("run health checker started",
		zap.Duration("interval", c.interval()),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("run health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one collect-evaluate-send cycle. Collection failures are
// logged and skipped; the next tick retries.
func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("metrics collection failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("run health nominal",
			zap.Int("runs_total", snap.RunsTotal),
			zap.Float64("fail_rate", snap.FailRate),
		)
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("run health alerts raised",
		zap.Int("triggered", len(alerts)),
		zap.Int("sent", sent),
	)
}
