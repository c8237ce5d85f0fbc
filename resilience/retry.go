package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"
)

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy int

const (
	// BackoffExponential doubles (by Multiplier) the delay every attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear waits InitialDelay times the attempt number.
	BackoffLinear
	// BackoffConstant always waits InitialDelay.
	BackoffConstant
)

// RetryConfig configures Retry.
type RetryConfig struct {
	// MaxAttempts counts the first call too.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	// Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff. Upstream Retry-After hints are
	// honoured even when longer.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier applies to BackoffExponential.
	// Default: 2.0
	Multiplier float64

	Strategy BackoffStrategy

	// Jitter adds up to 25% to each delay.
	Jitter bool

	// RetryIf reports whether err is worth another attempt.
	// Default: IsTransient
	RetryIf func(err error) bool

	// OnRetry runs before the wait that precedes attempt+1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry re-runs an operation while it fails with retryable errors.
type Retry struct {
	config RetryConfig
}

// NewRetry fills in defaults for every unset field of config.
func NewRetry(config RetryConfig) *Retry {
	config.MaxAttempts = max(config.MaxAttempts, 0)
	setter.SetDefault(&config.MaxAttempts, 3)
	setter.SetDefault(&config.InitialDelay, time.Second)
	setter.SetDefault(&config.MaxDelay, 30*time.Second)
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = IsTransient
	}
	return &Retry{config: config}
}

// Execute calls op until it succeeds, fails with an error RetryIf rejects,
// or runs out of attempts. Rejected errors are returned as they are. Once
// attempts run out the result is a transient *Error that wraps both
// ErrMaxRetriesExceeded and the last failure and keeps its status code and
// Retry-After hint.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	limit := r.config.MaxAttempts

	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !r.config.RetryIf(err) {
			return err
		}
		if attempt >= limit {
			break
		}

		wait := max(r.calculateDelay(attempt), RetryAfterOf(err))
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, wait)
		}
		if waitErr := sleep(ctx, wait); waitErr != nil {
			return waitErr
		}
	}

	return &Error{
		Kind:       KindTransient,
		Op:         "retry",
		StatusCode: StatusCodeOf(err),
		RetryAfter: RetryAfterOf(err),
		Err:        fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, limit, err),
	}
}

// calculateDelay is the backoff after the given failed attempt, before
// any Retry-After hint is applied.
func (r *Retry) calculateDelay(attempt int) time.Duration {
	base := r.config.InitialDelay

	var d time.Duration
	switch r.config.Strategy {
	case BackoffLinear:
		d = base * time.Duration(attempt)
	case BackoffConstant:
		d = base
	default:
		d = time.Duration(float64(base) * math.Pow(r.config.Multiplier, float64(attempt-1)))
	}
	d = min(d, r.config.MaxDelay)

	if r.config.Jitter && d >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

// Config returns the configuration after defaults were applied.
func (r *Retry) Config() RetryConfig {
	return r.config
}
