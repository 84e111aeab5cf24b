package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetry(4), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(eris.New("tikhub 503"), 503)
		}
		return "evidence", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "evidence", got)
	assert.Equal(t, 3, calls)
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(4), func(ctx context.Context) error {
		calls++
		return eris.New("invalid api key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return NewTransientError(eris.New("crawler 502"), 502)
	})
	require.Error(t, err)
	assert.Equal(t, 502, StatusOf(err))
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, fastRetry(5), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(eris.New("connection reset"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryReportsAttemptNumbers(t *testing.T) {
	cfg := fastRetry(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return NewTransientError(eris.New("busy"), 429)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ShouldRetryOverride(t *testing.T) {
	cfg := fastRetry(3)
	retryable := eris.New("quota window rollover")
	cfg.ShouldRetry = func(err error) bool { return eris.Is(err, retryable) }

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return retryable
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(RetryConfig{JitterFraction: -1})
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Zero(t, cfg.JitterFraction)
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}

	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, time.Second, computeBackoff(5, cfg), "capped at MaxBackoff")

	cfg.JitterFraction = 0.5
	for range 20 {
		d := computeBackoff(1, cfg)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestRetryConfigs(t *testing.T) {
	def := DefaultRetryConfig()
	assert.Equal(t, 3, def.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, def.InitialBackoff)

	persist := PersistRetryConfig()
	assert.Equal(t, 4, persist.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, persist.InitialBackoff)
	assert.Equal(t, 5*time.Second, persist.MaxBackoff)
}

func TestRetryLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		RetryLogger("tikhub", "search")(1, eris.New("503"))
	})
}
