package fault

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/hupe1980/agentgrid/logging"
)

// RetryConfig controls the retry loop.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Multiplier scales the delay each retry.
	Multiplier float64
	// Jitter is the symmetric random fraction applied to each delay
	// (0.1 means +/-10%).
	Jitter float64
	// Retryable holds the categories worth retrying. Others fail fast.
	Retryable map[Category]bool
}

// DefaultRetryConfig mirrors the orchestrator defaults: three attempts,
// exponential backoff from one second, transient categories retryable.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
		Retryable: map[Category]bool{
			CategoryNetwork:   true,
			CategoryTimeout:   true,
			CategoryRateLimit: true,
			CategoryModel:     true,
		},
	}
}

// Backoff returns the pre-jitter delay before retry number attempt (1-based).
// The sequence is BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(cfg.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= cfg.Multiplier
		if cfg.MaxDelay > 0 && d >= float64(cfg.MaxDelay) {
			return cfg.MaxDelay
		}
	}
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

func jittered(cfg RetryConfig, d time.Duration) time.Duration {
	if cfg.Jitter <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * cfg.Jitter // [-Jitter, +Jitter]
	return time.Duration(float64(d) * (1 + spread))
}

// PermanentError marks an error as never retryable regardless of category.
// Used for business outcomes (approval window expired, execution cancelled)
// where a re-run would repeat the wait, not fix the failure.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do fails fast on it. Returns nil for nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ClassifiedError is the terminal error of a Do call: the last underlying
// error, its category, and how many attempts were made.
type ClassifiedError struct {
	Category Category
	Attempts int
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %s", e.Category, e.Attempts, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// HandlerOptions configure a Handler.
type HandlerOptions struct {
	Retry            RetryConfig
	BreakerThreshold int
	BreakerReset     time.Duration
	Logger           logging.Logger
}

// Handler ties classification, retry, circuit breaking and metrics together.
// One handler is shared across the orchestrator; breakers and metrics are
// keyed inside it.
type Handler struct {
	retry    RetryConfig
	breakers *BreakerRegistry
	metrics  *Metrics
	logger   logging.Logger
}

// NewHandler creates a Handler with orchestrator defaults.
func NewHandler(optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{
		Retry:            DefaultRetryConfig(),
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerReset:     DefaultBreakerReset,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Handler{
		retry:    opts.Retry,
		breakers: NewBreakerRegistry(opts.BreakerThreshold, opts.BreakerReset),
		metrics:  NewMetrics(),
		logger:   opts.Logger,
	}
}

// Metrics exposes the failure aggregate.
func (h *Handler) Metrics() *Metrics { return h.metrics }

// Breakers exposes the breaker registry.
func (h *Handler) Breakers() *BreakerRegistry { return h.breakers }

// Do runs op under the handler's retry policy and the circuit breaker for
// key. The whole call counts as one unit for the breaker: any eventual
// success records a breaker success, exhausted or non-retryable failure
// records a breaker failure. Non-retryable categories fail on the first
// attempt without sleeping.
func Do[T any](ctx context.Context, h *Handler, key string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if !h.breakers.Allow(key) {
		return zero, fmt.Errorf("%s: %w", key, ErrCircuitOpen)
	}

	var lastErr error
	var lastCategory Category
	attempts := 0
	firstFailure := time.Time{}

	for attempt := 1; attempt <= h.retry.MaxAttempts; attempt++ {
		attempts = attempt
		result, err := op(ctx)
		if err == nil {
			h.breakers.RecordSuccess(key)
			if attempt > 1 {
				h.metrics.RecordRetryOutcome(lastCategory, true)
				h.metrics.RecordRecovery(lastCategory, time.Since(firstFailure))
				h.logger.Info("operation recovered after retry", "key", key, "attempts", attempt)
			}
			return result, nil
		}

		lastErr = err
		lastCategory = Classify(err)
		h.metrics.RecordFailure(lastCategory)
		if firstFailure.IsZero() {
			firstFailure = time.Now()
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) || errors.Is(err, context.Canceled) {
			break
		}
		if !h.retry.Retryable[lastCategory] || attempt == h.retry.MaxAttempts {
			break
		}

		delay := jittered(h.retry, Backoff(h.retry, attempt))
		h.logger.Debug("retrying operation", "key", key, "category", string(lastCategory), "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			h.breakers.RecordFailure(key)
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	h.breakers.RecordFailure(key)
	if attempts > 1 {
		h.metrics.RecordRetryOutcome(lastCategory, false)
	}
	return zero, &ClassifiedError{Category: lastCategory, Attempts: attempts, Err: lastErr}
}
