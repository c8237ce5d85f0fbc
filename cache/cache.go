package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCache         = errors.New("cache: cache is nil")
	ErrInvalidKey       = errors.New("cache: key is invalid")
	ErrKeyTooLong       = errors.New("cache: key exceeds max length")
	ErrNegativeTTL      = errors.New("cache: ttl is negative")
	ErrUnknownCategory  = errors.New("cache: unknown ttl category")
	ErrCapacityExceeded = errors.New("cache: capacity exceeded")
	ErrInvalidKeyPart   = errors.New("cache: key part is invalid")
)

// Cache is the interface for caching upstream results.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get should never error; it returns (nil, false) on miss or expiry.
type Cache interface {
	// Get retrieves a cached value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value with the given TTL. TTL=0 means no caching.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes a cached value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and returns
	// how many entries were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// PurgeExpired removes all expired entries and returns the count.
	PurgeExpired(ctx context.Context) int

	// Stats returns a snapshot of the cache counters.
	Stats() Stats
}

// Entry is a cached value with its bookkeeping.
type Entry struct {
	Key          string
	Value        any
	CreatedAt    time.Time
	TTL          time.Duration
	LastAccessed time.Time
	AccessCount  int64
}

// ExpiresAt returns the instant the entry stops being valid.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Valid reports whether the entry may still be served at now.
func (e *Entry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt())
}

// Stats holds counters collected by a cache.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	Size        int
	MaxSize     int
}

// HitRate returns hits / (hits + misses), or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
