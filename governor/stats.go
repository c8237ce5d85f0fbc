package governor

import "time"

// Stats is a snapshot of governor counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
	MaxSize     int   `json:"max_size"`
	InFlight    int   `json:"in_flight"`

	UpstreamCalls int64 `json:"upstream_calls"`
	Retries       int64 `json:"retries"`
	Failures      int64 `json:"failures"`

	RateLimitTokens       float64   `json:"rate_limit_tokens"`
	RateLimitBlockedUntil time.Time `json:"rate_limit_blocked_until,omitzero"`
	CircuitState          string    `json:"circuit_state"`
}

// HitRate returns hits / (hits + misses), or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns current counters. Cache figures count Fetch lookups only.
func (g *Governor) Stats() Stats {
	cs := g.cache.Stats()

	s := Stats{
		Hits:                  cs.Hits,
		Misses:                cs.Misses,
		Evictions:             cs.Evictions,
		Expirations:           cs.Expirations,
		Size:                  cs.Size,
		MaxSize:               cs.MaxSize,
		InFlight:              g.InFlight(),
		UpstreamCalls:         g.upstreamCalls.Load(),
		Retries:               g.retries.Load(),
		Failures:              g.failures.Load(),
		RateLimitTokens:       g.limiter.Tokens(),
		RateLimitBlockedUntil: g.limiter.BlockedUntil(),
		CircuitState:          "disabled",
	}
	if g.breaker != nil {
		s.CircuitState = g.breaker.State().String()
	}
	return s
}
