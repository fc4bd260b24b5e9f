package fault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	cfg.Jitter = 0
	return cfg
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0}

	assert.Equal(t, time.Second, Backoff(cfg, 1))
	assert.Equal(t, 2*time.Second, Backoff(cfg, 2))
	assert.Equal(t, 4*time.Second, Backoff(cfg, 3))

	// Monotonically non-decreasing, capped at MaxDelay.
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := Backoff(cfg, attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
	}
	assert.Equal(t, cfg.MaxDelay, Backoff(cfg, 10))
}

func TestDoRetriesTransientFailures(t *testing.T) {
	h := NewHandler(func(o *HandlerOptions) { o.Retry = fastRetry() })

	calls := 0
	result, err := Do(context.Background(), h, "op", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)

	stats := h.Metrics().Snapshot()[CategoryNetwork]
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 1, stats.RetrySuccesses)
}

func TestDoDoesNotRetryValidation(t *testing.T) {
	h := NewHandler(func(o *HandlerOptions) { o.Retry = fastRetry() })

	calls := 0
	_, err := Do(context.Background(), h, "op", func(context.Context) (string, error) {
		calls++
		return "", errors.New("schema validation failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CategoryValidation, ce.Category)
	assert.Equal(t, 1, ce.Attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	h := NewHandler(func(o *HandlerOptions) { o.Retry = fastRetry() })

	calls := 0
	_, err := Do(context.Background(), h, "op", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("rate limit exceeded")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CategoryRateLimit, ce.Category)
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, 1, h.Metrics().Snapshot()[CategoryRateLimit].RetryFailures)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	h := NewHandler(func(o *HandlerOptions) { o.Retry = fastRetry() })

	calls := 0
	_, err := Do(context.Background(), h, "op", func(context.Context) (string, error) {
		calls++
		// Retryable category, but explicitly marked permanent.
		return "", Permanent(errors.New("approval window expired: connection refused"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	cfg := fastRetry()
	cfg.BaseDelay = time.Second
	h := NewHandler(func(o *HandlerOptions) { o.Retry = cfg })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, h, "op", func(context.Context) (string, error) {
		return "", errors.New("connection refused")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
