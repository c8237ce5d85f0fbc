package governor

import (
	"context"

	"github.com/mailgun/holster/v4/clock"

	"github.com/hawkbot/hawkcache/health"
	"github.com/hawkbot/hawkcache/resilience"
)

// Checker reports whether the governor can reach its upstream.
//
// An open circuit is unhealthy; a half-open circuit or an upstream-imposed
// rate limit block is degraded.
type Checker struct {
	g *Governor
}

// NewChecker returns a health checker for g.
func NewChecker(g *Governor) *Checker {
	return &Checker{g: g}
}

// Name returns the name of this checker.
func (c *Checker) Name() string {
	return "governor"
}

// Check performs the health check.
func (c *Checker) Check(ctx context.Context) health.Result {
	select {
	case <-ctx.Done():
		return health.Unhealthy("context cancelled", ctx.Err())
	default:
	}

	s := c.g.Stats()
	details := map[string]any{
		"size":              s.Size,
		"max_size":          s.MaxSize,
		"hit_rate":          s.HitRate(),
		"in_flight":         s.InFlight,
		"rate_limit_tokens": s.RateLimitTokens,
		"circuit_state":     s.CircuitState,
	}

	switch {
	case c.g.closed.Load():
		return health.Unhealthy("governor closed", ErrClosed).WithDetails(details)
	case s.CircuitState == resilience.StateOpen.String():
		return health.Unhealthy("upstream circuit open", resilience.ErrCircuitOpen).WithDetails(details)
	case s.CircuitState == resilience.StateHalfOpen.String():
		return health.Degraded("upstream circuit probing").WithDetails(details)
	case s.RateLimitBlockedUntil.After(clock.Now()):
		details["blocked_until"] = s.RateLimitBlockedUntil
		return health.Degraded("upstream rate limit in effect").WithDetails(details)
	}

	return health.Healthy("ok").WithDetails(details)
}

var _ health.Checker = (*Checker)(nil)
