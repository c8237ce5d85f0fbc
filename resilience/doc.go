// Package resilience provides the failure handling used around upstream
// stats API calls.
//
// # Patterns
//
//   - Rate Limiter: a token bucket shared by every upstream call. The
//     default allows 8 calls per 60 seconds, waiters are queued in arrival
//     order and a Retry-After from the upstream blocks the bucket.
//
//   - Retry: re-runs transient failures with exponential backoff and
//     optional jitter. Permanent failures are returned at once.
//
//   - Circuit Breaker: stops calling an upstream that keeps failing.
//
//   - Bulkhead: limits concurrent operations, for example batch lookups.
//
//   - Timeout: bounds a single attempt.
//
// # Errors
//
// Failures are classified with [Transient] and [Permanent]. [KindOf]
// inspects an error chain; unmarked timeouts and connection errors count as
// transient, anything else unmarked counts as permanent.
//
// # Usage
//
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	    Capacity: 8,
//	    Window:   time.Minute,
//	})
//
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{Jitter: true})),
//	    resilience.WithRateLimiter(rl),
//	    resilience.WithTimeout(30*time.Second),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return fetchPlayer(ctx)
//	})
package resilience
