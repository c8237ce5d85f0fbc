package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hawkbot/hawkcache/resilience"
)

func ExampleKindOf() {
	notFound := resilience.Permanent(errors.New("player not found"))
	throttled := &resilience.Error{
		Kind:       resilience.KindTransient,
		StatusCode: 429,
		RetryAfter: time.Minute,
	}

	fmt.Println(resilience.KindOf(notFound))
	fmt.Println(resilience.KindOf(throttled), resilience.RetryAfterOf(throttled))
	fmt.Println(resilience.KindOf(context.DeadlineExceeded))
	// Output:
	// permanent
	// transient 1m0s
	// transient
}

func ExampleNewRetry() {
	r := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			fmt.Printf("attempt %d failed: %v\n", attempt, errors.Unwrap(err))
		},
	})

	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return resilience.Transient(errors.New("connection reset"))
		}
		return nil
	})

	fmt.Println("err:", err, "attempts:", attempts)
	// Output:
	// attempt 1 failed: connection reset
	// attempt 2 failed: connection reset
	// err: <nil> attempts: 3
}

func ExampleNewRateLimiter() {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Capacity: 8,
		Window:   time.Minute,
	})

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	fmt.Println("allowed:", allowed)
	// Output:
	// allowed: 8
}

func ExampleRateLimiter_BlockFor() {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{})

	// The upstream answered 429 with Retry-After: 60.
	rl.BlockFor(time.Minute)

	fmt.Println("allowed:", rl.Allow())
	fmt.Println("tokens:", rl.Tokens())
	// Output:
	// allowed: false
	// tokens: 0
}

func ExampleCircuitBreaker_Metrics() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	unavailable := func(context.Context) error {
		return resilience.Transient(errors.New("503 from api.pubg.com"))
	}
	_ = cb.Execute(ctx, unavailable)
	fmt.Println(cb.State(), cb.Metrics().Failures)

	_ = cb.Execute(ctx, unavailable)
	err := cb.Execute(ctx, func(context.Context) error { return nil })
	fmt.Println(cb.State(), cb.Metrics().Trips, errors.Is(err, resilience.ErrCircuitOpen))

	cb.Reset()
	fmt.Println(cb.State())
	// Output:
	// closed 1
	// open 1 true
	// closed
}

func ExampleBulkhead_Acquire() {
	b := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1})
	ctx := context.Background()

	_ = b.Acquire(ctx)
	fmt.Println(b.Acquire(ctx) == resilience.ErrBulkheadFull)
	b.Release()
	fmt.Println(b.Metrics().Rejected, b.Metrics().Available)
	// Output:
	// true
	// 1 1
}

func ExampleExecuteWithTimeout() {
	err := resilience.ExecuteWithTimeout(context.Background(), 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	fmt.Println(errors.Is(err, resilience.ErrTimeout), resilience.IsTransient(err))
	// Output: true true
}

func ExampleNewExecutor() {
	calls := 0
	exec := resilience.NewExecutor(
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{InitialDelay: time.Millisecond})),
		resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Capacity: 10, Window: time.Second})),
		resilience.WithTimeout(time.Second),
	)

	// Unknown players are not retried.
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return resilience.Permanent(errors.New("player not found"))
	})

	fmt.Println(resilience.IsPermanent(err), calls)
	// Output: true 1
}
