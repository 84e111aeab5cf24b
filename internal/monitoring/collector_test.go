package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/internal/store"
)

type stubStore struct {
	store.Store
	list    func(ctx context.Context, filter store.ValidationFilter) ([]model.ValidationRecord, error)
	reports map[string]*model.Report
}

func (s *stubStore) ListValidations(ctx context.Context, filter store.ValidationFilter) ([]model.ValidationRecord, error) {
	return s.list(ctx, filter)
}

func (s *stubStore) GetReport(ctx context.Context, validationID string) (*model.Report, error) {
	report, ok := s.reports[validationID]
	if !ok {
		return nil, model.E(model.KindNotFound, "report not found")
	}
	return report, nil
}

func record(id string, status model.RecordStatus, score int, age time.Duration) model.ValidationRecord {
	return model.ValidationRecord{
		ID:           id,
		UserID:       "user-1",
		Status:       status,
		OverallScore: score,
		CreatedAt:    time.Now().UTC().Add(-age),
	}
}

func TestCollect_AggregatesWindow(t *testing.T) {
	st := &stubStore{
		list: func(_ context.Context, filter store.ValidationFilter) ([]model.ValidationRecord, error) {
			assert.Equal(t, recordScanLimit, filter.Limit)
			return []model.ValidationRecord{
				record("v-1", model.StatusCompleted, 80, time.Hour),
				record("v-2", model.StatusCompleted, 60, 2*time.Hour),
				record("v-3", model.StatusFailed, 0, 3*time.Hour),
				record("v-4", model.StatusProcessing, 0, time.Minute),
				record("v-5", model.StatusCompleted, 90, 48*time.Hour),
			}, nil
		},
		reports: map[string]*model.Report{
			"v-1": {
				ValidationID: "v-1",
				Metrics:      model.RunMetrics{Cost: model.CostBreakdown{TotalUSD: 0.12}},
			},
			"v-2": {
				ValidationID: "v-2",
				Degraded:     true,
				Metrics:      model.RunMetrics{Cost: model.CostBreakdown{TotalUSD: 0.08}},
			},
		},
	}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	// v-5 falls outside the 24h window.
	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsProcessing)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 1e-9)
	assert.InDelta(t, 0.5, snap.DegradedRate, 1e-9)
	assert.InDelta(t, 70, snap.AvgScore, 1e-9)
	assert.InDelta(t, 0.20, snap.CostUSD, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollect_NoRuns(t *testing.T) {
	st := &stubStore{
		list: func(context.Context, store.ValidationFilter) ([]model.ValidationRecord, error) {
			return nil, nil
		},
	}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.AvgScore)
	assert.Zero(t, snap.DegradedRate)
}

func TestCollect_MissingReportTolerated(t *testing.T) {
	st := &stubStore{
		list: func(context.Context, store.ValidationFilter) ([]model.ValidationRecord, error) {
			return []model.ValidationRecord{
				record("v-1", model.StatusCompleted, 50, time.Hour),
			}, nil
		},
		reports: map[string]*model.Report{},
	}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.RunsCompleted)
	assert.Zero(t, snap.CostUSD)
	assert.InDelta(t, 50, snap.AvgScore, 1e-9)
}

func TestCollect_ListError(t *testing.T) {
	st := &stubStore{
		list: func(context.Context, store.ValidationFilter) ([]model.ValidationRecord, error) {
			return nil, eris.New("db down")
		},
	}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Nil(t, snap)
}
