package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"

	"github.com/hawkbot/hawkcache/observe"
)

// RemovalReason says why an entry left the cache.
type RemovalReason int

const (
	// RemovalEvicted means the entry was dropped to make room.
	RemovalEvicted RemovalReason = iota
	// RemovalExpired means the entry outlived its TTL.
	RemovalExpired
	// RemovalDeleted means the entry was explicitly invalidated.
	RemovalDeleted
)

// String returns the string representation of the reason.
func (r RemovalReason) String() string {
	switch r {
	case RemovalEvicted:
		return "evicted"
	case RemovalExpired:
		return "expired"
	case RemovalDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// MemoryConfig configures a MemoryCache.
type MemoryConfig struct {
	// MaxSize is the maximum number of entries kept in memory.
	// Default: 1000
	MaxSize int

	// Logger receives capacity warnings. Default: no-op.
	Logger observe.Logger

	// OnRemove is called after an entry is evicted, expires or is deleted.
	// It runs outside the cache lock and must not block.
	OnRemove func(key string, reason RemovalReason)
}

// MemoryCache is an in-memory LRU cache with per-entry TTL.
type MemoryCache struct {
	config MemoryConfig

	mu      sync.Mutex
	entries map[string]*list.Element
	ll      *list.List // front is most recently used
	stats   Stats

	// nextExpiry is a lower bound on the earliest expiry of any entry.
	nextExpiry time.Time
}

type removal struct {
	key    string
	reason RemovalReason
}

// NewMemoryCache creates a new in-memory cache with the given config.
func NewMemoryCache(config MemoryConfig) *MemoryCache {
	if config.MaxSize < 0 {
		config.MaxSize = 0
	}
	setter.SetDefault(&config.MaxSize, 1000)
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	return &MemoryCache{
		config:  config,
		entries: make(map[string]*list.Element),
		ll:      list.New(),
	}
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
// A hit marks the entry as most recently used.
func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	now := clock.Now()
	var removed []removal

	c.mu.Lock()
	ele, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	entry := ele.Value.(*Entry)
	if !entry.Valid(now) {
		// Expired - clean up lazily
		removed = append(removed, c.removeElementLocked(ele, RemovalExpired))
		c.stats.Misses++
		c.mu.Unlock()
		c.notify(removed)
		return nil, false
	}

	entry.LastAccessed = now
	entry.AccessCount++
	c.ll.MoveToFront(ele)
	c.stats.Hits++
	value := entry.Value
	c.mu.Unlock()

	return value, true
}

// Set stores a value with the given TTL. TTL=0 means no caching.
// Inserting a new key into a full cache drops expired entries first and
// then the least recently used one.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl < 0 {
		return ErrNegativeTTL
	}
	if ttl == 0 {
		return nil
	}

	now := clock.Now()
	var removed []removal

	c.mu.Lock()
	if ele, ok := c.entries[key]; ok {
		entry := ele.Value.(*Entry)
		entry.Value = value
		entry.CreatedAt = now
		entry.TTL = ttl
		entry.LastAccessed = now
		entry.AccessCount = 0
		c.ll.MoveToFront(ele)
	} else {
		if len(c.entries) >= c.config.MaxSize {
			removed = c.makeRoomLocked(ctx, now, removed)
		}
		c.entries[key] = c.ll.PushFront(&Entry{
			Key:          key,
			Value:        value,
			CreatedAt:    now,
			TTL:          ttl,
			LastAccessed: now,
		})
	}
	if expiresAt := now.Add(ttl); c.nextExpiry.IsZero() || expiresAt.Before(c.nextExpiry) {
		c.nextExpiry = expiresAt
	}
	c.mu.Unlock()

	c.notify(removed)
	return nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	var removed []removal

	c.mu.Lock()
	if ele, ok := c.entries[key]; ok {
		removed = append(removed, c.removeElementLocked(ele, RemovalDeleted))
	}
	c.mu.Unlock()

	c.notify(removed)
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix.
// An empty prefix is rejected so a typo cannot wipe the cache; use Clear.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrInvalidKey
	}

	var removed []removal

	c.mu.Lock()
	for key, ele := range c.entries {
		if strings.HasPrefix(key, prefix) {
			removed = append(removed, c.removeElementLocked(ele, RemovalDeleted))
		}
	}
	c.mu.Unlock()

	c.notify(removed)
	return len(removed), nil
}

// PurgeExpired removes all expired entries and returns how many were dropped.
func (c *MemoryCache) PurgeExpired(_ context.Context) int {
	c.mu.Lock()
	removed := c.purgeExpiredLocked(clock.Now(), nil)
	c.mu.Unlock()

	c.notify(removed)
	return len(removed)
}

// Clear drops every entry, reporting each to OnRemove as deleted.
// Counters are kept.
func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	removed := make([]removal, 0, len(c.entries))
	for key := range c.entries {
		removed = append(removed, removal{key: key, reason: RemovalDeleted})
	}
	c.entries = make(map[string]*list.Element)
	c.ll.Init()
	c.nextExpiry = time.Time{}
	c.mu.Unlock()

	c.notify(removed)
}

// Inspect returns a copy of the entry stored under key without counting a
// lookup or changing its recency. Expired entries are reported as absent.
func (c *MemoryCache) Inspect(key string) (Entry, bool) {
	now := clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	ele, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	entry := ele.Value.(*Entry)
	if !entry.Valid(now) {
		return Entry{}, false
	}
	return *entry, true
}

// Peek returns the value stored under key if it is still valid, without
// touching counters or recency.
func (c *MemoryCache) Peek(key string) (any, bool) {
	entry, ok := c.Inspect(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Len returns the number of entries physically present, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = len(c.entries)
	s.MaxSize = c.config.MaxSize
	return s
}

func (c *MemoryCache) makeRoomLocked(ctx context.Context, now time.Time, removed []removal) []removal {
	if !c.nextExpiry.IsZero() && !now.Before(c.nextExpiry) {
		removed = c.purgeExpiredLocked(now, removed)
	}

	for len(c.entries) >= c.config.MaxSize {
		ele := c.ll.Back()
		if ele == nil {
			// The recency list lost track of indexed keys; drop one anyway
			// so the size bound holds.
			c.config.Logger.Warn(ctx, "cache full with no eviction candidate",
				observe.Field{Key: "error", Value: ErrCapacityExceeded.Error()},
				observe.Field{Key: "size", Value: len(c.entries)},
			)
			for key := range c.entries {
				delete(c.entries, key)
				c.stats.Evictions++
				removed = append(removed, removal{key: key, reason: RemovalEvicted})
				break
			}
			continue
		}
		removed = append(removed, c.removeElementLocked(ele, RemovalEvicted))
		c.stats.Evictions++
	}
	return removed
}

func (c *MemoryCache) purgeExpiredLocked(now time.Time, removed []removal) []removal {
	var next time.Time
	for ele := c.ll.Back(); ele != nil; {
		prev := ele.Prev()
		entry := ele.Value.(*Entry)
		if !entry.Valid(now) {
			removed = append(removed, c.removeElementLocked(ele, RemovalExpired))
		} else if exp := entry.ExpiresAt(); next.IsZero() || exp.Before(next) {
			next = exp
		}
		ele = prev
	}
	c.nextExpiry = next
	return removed
}

func (c *MemoryCache) removeElementLocked(ele *list.Element, reason RemovalReason) removal {
	entry := c.ll.Remove(ele).(*Entry)
	delete(c.entries, entry.Key)
	if reason == RemovalExpired {
		c.stats.Expirations++
	}
	if len(c.entries) == 0 {
		c.nextExpiry = time.Time{}
	}
	return removal{key: entry.Key, reason: reason}
}

func (c *MemoryCache) notify(removed []removal) {
	if c.config.OnRemove == nil {
		return
	}
	for _, r := range removed {
		c.config.OnRemove(r.key, r.reason)
	}
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
