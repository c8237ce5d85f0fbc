package cache

import (
	"fmt"
	"sort"
	"time"
)

// Category names a kind of upstream data with its own TTL.
type Category string

// Categories served by the PUBG rating API.
const (
	CategoryPlayer  Category = "player"
	CategorySeason  Category = "season"
	CategoryStats   Category = "stats"
	CategoryMatches Category = "matches"
)

// Policy configures caching behavior per category.
type Policy struct {
	// TTLs maps each known category to its time to live.
	TTLs map[Category]time.Duration

	// DefaultTTL is used for categories missing from TTLs.
	// If zero, unknown categories are rejected.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Category TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the default caching policy.
// player: 15m, season: 1h, stats: 30m, matches: 2h, no default, no maximum.
func DefaultPolicy() Policy {
	return Policy{
		TTLs: map[Category]time.Duration{
			CategoryPlayer:  15 * time.Minute,
			CategorySeason:  60 * time.Minute,
			CategoryStats:   30 * time.Minute,
			CategoryMatches: 2 * time.Hour,
		},
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
// Every category resolves to a zero TTL.
func NoCachePolicy() Policy {
	return Policy{
		TTLs: map[Category]time.Duration{
			CategoryPlayer:  0,
			CategorySeason:  0,
			CategoryStats:   0,
			CategoryMatches: 0,
		},
	}
}

// TTL returns the TTL for category, applying the default and clamping.
func (p Policy) TTL(category Category) (time.Duration, error) {
	ttl, ok := p.TTLs[category]
	if !ok {
		if p.DefaultTTL <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
		}
		ttl = p.DefaultTTL
	}

	// Clamp to MaxTTL if set
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}

	return ttl, nil
}

// WithTTL returns a copy of p with the TTL for category replaced.
func (p Policy) WithTTL(category Category, ttl time.Duration) Policy {
	ttls := make(map[Category]time.Duration, len(p.TTLs)+1)
	for k, v := range p.TTLs {
		ttls[k] = v
	}
	ttls[category] = ttl
	p.TTLs = ttls
	return p
}

// Validate reports the first negative TTL in the policy.
func (p Policy) Validate() error {
	if p.DefaultTTL < 0 {
		return fmt.Errorf("default: %w", ErrNegativeTTL)
	}
	if p.MaxTTL < 0 {
		return fmt.Errorf("max: %w", ErrNegativeTTL)
	}
	for _, c := range p.Categories() {
		if p.TTLs[c] < 0 {
			return fmt.Errorf("%s: %w", c, ErrNegativeTTL)
		}
	}
	return nil
}

// Categories returns the configured categories in sorted order.
func (p Policy) Categories() []Category {
	out := make([]Category, 0, len(p.TTLs))
	for c := range p.TTLs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
