package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"
	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Capacity is the bucket size: the number of calls allowed in a burst.
	// Default: 8
	Capacity int

	// Window is the time it takes to refill an empty bucket.
	// Tokens refill continuously at Capacity/Window.
	// Default: 60 seconds
	Window time.Duration

	// WaitOnLimit makes Execute wait for a token instead of returning
	// ErrRateLimitExceeded.
	// Default: false
	WaitOnLimit bool

	// MaxWait bounds how long Wait may block for a token. Zero means
	// waiters are never rejected.
	MaxWait time.Duration
}

// RateLimiter is a token bucket shared by every upstream call.
// Waiters are granted tokens in arrival order, also across a BlockFor.
type RateLimiter struct {
	config RateLimiterConfig

	mu           sync.Mutex
	limiter      *rate.Limiter
	blockedUntil time.Time
}

// NewRateLimiter creates a new rate limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Capacity < 0 {
		config.Capacity = 0
	}
	setter.SetDefault(&config.Capacity, 8)
	setter.SetDefault(&config.Window, 60*time.Second)

	rl := &RateLimiter{config: config}
	rl.limiter = rl.newLimiter()
	return rl
}

func (rl *RateLimiter) newLimiter() *rate.Limiter {
	every := rl.config.Window / time.Duration(rl.config.Capacity)
	lim := rate.NewLimiter(rate.Every(every), rl.config.Capacity)
	// rate.NewLimiter starts full relative to its first observation; anchor
	// it to the injectable clock so frozen time behaves.
	lim.SetLimitAt(clock.Now(), rate.Every(every))
	return lim
}

// Allow takes a token if one is available right now.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := clock.Now()
	if now.Before(rl.blockedUntil) {
		return false
	}
	return rl.limiter.AllowN(now, 1)
}

// Wait blocks until a token is granted or ctx ends. With MaxWait unset
// it never rejects.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r, delay := rl.reserve()
	if rl.config.MaxWait > 0 && delay > rl.config.MaxWait {
		r.CancelAt(clock.Now())
		return ErrRateLimitExceeded
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			// Hand the token back so later waiters are not delayed for nothing.
			r.CancelAt(clock.Now())
			return ctx.Err()
		case <-clock.After(delay):
		}
	}

	// A block that began while we slept still applies; the token is kept.
	return rl.waitBlocked(ctx)
}

// reserve books the next token on arrival and returns how long the caller
// must wait for it, including any upstream-imposed block. Booking before
// sleeping keeps grants in arrival order when a block ends.
func (rl *RateLimiter) reserve() (*rate.Reservation, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := clock.Now()
	r := rl.limiter.ReserveN(now, 1)
	return r, max(r.DelayFrom(now), rl.blockedUntil.Sub(now))
}

func (rl *RateLimiter) waitBlocked(ctx context.Context) error {
	for {
		rl.mu.Lock()
		d := rl.blockedUntil.Sub(clock.Now())
		rl.mu.Unlock()

		if d <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(d):
		}
	}
}

// BlockFor stops granting tokens for d and empties the bucket. It is used
// when the upstream answers with a Retry-After hint.
func (rl *RateLimiter) BlockFor(d time.Duration) {
	if d <= 0 {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := clock.Now()
	until := now.Add(d)
	if until.After(rl.blockedUntil) {
		rl.blockedUntil = until
	}

	// Drain what is left so the bucket refills from empty after the block.
	if tokens := int(rl.limiter.TokensAt(now)); tokens > 0 {
		rl.limiter.AllowN(now, tokens)
	}
}

// BlockedUntil returns the end of the current upstream-imposed block.
func (rl *RateLimiter) BlockedUntil() time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.blockedUntil
}

// Execute runs the operation if allowed by rate limit.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.config.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}

	return op(ctx)
}

// Tokens returns the current number of available tokens, in [0, Capacity].
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := clock.Now()
	if now.Before(rl.blockedUntil) {
		return 0
	}
	t := rl.limiter.TokensAt(now)
	if t < 0 {
		return 0
	}
	return t
}

// Reset resets the rate limiter to full capacity and lifts any block.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter = rl.newLimiter()
	rl.blockedUntil = time.Time{}
}

// Config returns the rate limiter configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	return rl.config
}
