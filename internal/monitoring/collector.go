// Package monitoring watches validation-run health: completion and failure
// rates, degraded completions, score drift and estimated spend, with
// threshold alerts delivered over a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run metrics within the lookback window.
	RunsTotal      int     `json:"runs_total"`
	RunsCompleted  int     `json:"runs_completed"`
	RunsFailed     int     `json:"runs_failed"`
	RunsProcessing int     `json:"runs_processing"`
	FailRate       float64 `json:"fail_rate"`
	DegradedRate   float64 `json:"degraded_rate"`
	AvgScore       float64 `json:"avg_score"`
	CostUSD        float64 `json:"cost_usd"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers run metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// recordScanLimit bounds how many recent records one snapshot reads.
const recordScanLimit = 500

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	records, err := c.store.ListValidations(ctx, store.ValidationFilter{Limit: recordScanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list validations")
	}

	var scoreSum int
	var degraded int
	for _, rec := range records {
		if rec.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch rec.Status {
		case model.StatusCompleted:
			snap.RunsCompleted++
			scoreSum += rec.OverallScore
			report, rerr := c.store.GetReport(ctx, rec.ID)
			if rerr != nil {
				if !model.IsKind(rerr, model.KindNotFound) {
					zap.L().Debug("monitoring: report read failed", zap.String("validation_id", rec.ID), zap.Error(rerr))
				}
				continue
			}
			snap.CostUSD += report.Metrics.Cost.TotalUSD
			if report.Degraded {
				degraded++
			}
		case model.StatusFailed:
			snap.RunsFailed++
		case model.StatusProcessing:
			snap.RunsProcessing++
		}
	}

	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsCompleted > 0 {
		snap.AvgScore = float64(scoreSum) / float64(snap.RunsCompleted)
		snap.DegradedRate = float64(degraded) / float64(snap.RunsCompleted)
	}
	return snap, nil
}
