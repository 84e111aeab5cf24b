package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/config"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	zap.L().Info("monitoring: checker started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackHours)
	if err != nil {
		zap.L().Error("monitoring: collect failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		zap.L().Debug("monitoring: no alerts",
			zap.Int("runs_total", snap.RunsTotal),
			zap.Float64("fail_rate", snap.FailRate),
		)
		return
	}
	c.alerter.SendAlerts(ctx, alerts)
}
