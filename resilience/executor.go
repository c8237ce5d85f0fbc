package resilience

import (
	"context"
	"time"
)

// Op is one unit of work guarded by an Executor.
type Op func(context.Context) error

// Executor runs an operation through the configured patterns in a fixed
// order, outermost first:
//
//  1. Bulkhead caps concurrent upstream work.
//  2. Circuit breaker counts one failure per exhausted call.
//  3. Retry re-runs transient failures with backoff.
//  4. Rate limiter makes every attempt, retries included, wait for a token.
//     An attempt failing with a Retry-After hint blocks the whole bucket.
//  5. Timeout bounds a single attempt.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an executor from opts. With no options Execute just
// calls the operation.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.rateLimiter = rl }
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithTimeout bounds each attempt to timeout.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return WithTimeoutConfig(NewTimeout(TimeoutConfig{Timeout: timeout}))
}

// WithTimeoutConfig bounds each attempt with t.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) { e.timeout = t }
}

// RateLimiter returns the configured rate limiter, or nil.
func (e *Executor) RateLimiter() *RateLimiter { return e.rateLimiter }

// CircuitBreaker returns the configured circuit breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker { return e.circuitBreaker }

// Execute runs op through every configured pattern.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	return e.chain(op)(ctx)
}

// chain wraps op from the innermost stage outwards.
func (e *Executor) chain(op Op) Op {
	if e.timeout != nil {
		op = wrap(op, e.timeout.Execute)
	}
	if rl := e.rateLimiter; rl != nil {
		op = wrap(op, func(ctx context.Context, next func(context.Context) error) error {
			if err := rl.Wait(ctx); err != nil {
				return err
			}
			err := next(ctx)
			if d := RetryAfterOf(err); d > 0 {
				rl.BlockFor(d)
			}
			return err
		})
	}
	if e.retry != nil {
		op = wrap(op, e.retry.Execute)
	}
	if e.circuitBreaker != nil {
		op = wrap(op, e.circuitBreaker.Execute)
	}
	if e.bulkhead != nil {
		op = wrap(op, e.bulkhead.Execute)
	}
	return op
}

func wrap(inner Op, stage func(context.Context, func(context.Context) error) error) Op {
	return func(ctx context.Context) error {
		return stage(ctx, inner)
	}
}
