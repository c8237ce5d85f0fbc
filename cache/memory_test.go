package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mailgun/holster/v4/clock"
)

func TestMemoryCache_GetSetDelete(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()

	val, ok := c.Get(ctx, "nonexistent")
	if ok || val != nil {
		t.Errorf("Get on empty cache = (%v, %v), want (nil, false)", val, ok)
	}

	key := "player:steam:Ace"
	if err := c.Set(ctx, key, "account.abc", 15*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := c.Get(ctx, key)
	if !ok || got != "account.abc" {
		t.Errorf("Get after Set = (%v, %v), want (account.abc, true)", got, ok)
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := c.Get(ctx, key); ok {
		t.Error("Get after Delete should return ok=false")
	}

	// Delete is idempotent
	if err := c.Delete(ctx, "nonexistent"); err != nil {
		t.Errorf("Delete on non-existent key should not error, got: %v", err)
	}
}

func TestMemoryCache_SetValidation(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()

	if err := c.Set(ctx, "stats:steam:x", 1, -time.Second); !errors.Is(err, ErrNegativeTTL) {
		t.Errorf("Set with negative ttl = %v, want ErrNegativeTTL", err)
	}
	if err := c.Set(ctx, "", 1, time.Second); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Set with empty key = %v, want ErrInvalidKey", err)
	}

	// Zero TTL means do not cache
	if err := c.Set(ctx, "stats:steam:x", 1, 0); err != nil {
		t.Fatalf("Set with zero ttl = %v, want nil", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after zero-ttl Set, want 0", c.Len())
	}
}

// TestMemoryCache_Expiry checks an entry is served strictly before
// CreatedAt+TTL and never at or after it.
func TestMemoryCache_Expiry(t *testing.T) {
	defer clock.Freeze(clock.Now()).Unfreeze()

	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()

	if err := c.Set(ctx, "player:steam:Ace", "v", 100*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.Advance(99 * time.Second)
	if _, ok := c.Get(ctx, "player:steam:Ace"); !ok {
		t.Fatal("Get before expiry should hit")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(ctx, "player:steam:Ace"); ok {
		t.Fatal("Get at expiry should miss")
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Expirations != 1 || s.Size != 0 {
		t.Errorf("Stats() = %+v, want hits=1 misses=1 expirations=1 size=0", s)
	}
}

func TestMemoryCache_OverwriteRefreshesTTL(t *testing.T) {
	defer clock.Freeze(clock.Now()).Unfreeze()

	c := NewMemoryCache(MemoryConfig{MaxSize: 2})
	ctx := context.Background()

	_ = c.Set(ctx, "season:steam:current", "s1", time.Minute)
	clock.Advance(50 * time.Second)
	_ = c.Set(ctx, "season:steam:current", "s2", time.Minute)
	clock.Advance(50 * time.Second)

	got, ok := c.Get(ctx, "season:steam:current")
	if !ok || got != "s2" {
		t.Errorf("Get = (%v, %v), want (s2, true)", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

// TestMemoryCache_LRUEviction checks the least recently used entry is the
// victim and the size bound holds.
func TestMemoryCache_LRUEviction(t *testing.T) {
	var removed []string
	c := NewMemoryCache(MemoryConfig{
		MaxSize: 3,
		OnRemove: func(key string, reason RemovalReason) {
			removed = append(removed, fmt.Sprintf("%s:%s", reason, key))
		},
	})
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, k, k, time.Hour); err != nil {
			t.Fatalf("Set(%q) failed: %v", k, err)
		}
	}

	// Touch "a" so "b" becomes least recently used
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatal("expected hit on a")
	}

	if err := c.Set(ctx, "d", "d", time.Hour); err != nil {
		t.Fatalf("Set(d) failed: %v", err)
	}

	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if _, ok := c.Peek("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Peek(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if len(removed) != 1 || removed[0] != "evicted:b" {
		t.Errorf("removed = %v, want [evicted:b]", removed)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

// TestMemoryCache_ExpiredPurgedBeforeEviction checks that a full cache
// drops expired entries before evicting live ones.
func TestMemoryCache_ExpiredPurgedBeforeEviction(t *testing.T) {
	defer clock.Freeze(clock.Now()).Unfreeze()

	c := NewMemoryCache(MemoryConfig{MaxSize: 2})
	ctx := context.Background()

	_ = c.Set(ctx, "old", 1, time.Hour)
	_ = c.Set(ctx, "short", 2, time.Second)
	_, _ = c.Get(ctx, "short") // "old" is now LRU

	clock.Advance(2 * time.Second)
	_ = c.Set(ctx, "new", 3, time.Hour)

	if _, ok := c.Peek("old"); !ok {
		t.Error("live LRU entry was evicted although an expired one existed")
	}
	s := c.Stats()
	if s.Evictions != 0 || s.Expirations != 1 {
		t.Errorf("Stats() = %+v, want evictions=0 expirations=1", s)
	}
}

func TestMemoryCache_MaxSizeNeverExceeded(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxSize: 10})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = c.Set(ctx, fmt.Sprintf("k%d-%d", g, i), i, time.Hour)
				_, _ = c.Get(ctx, fmt.Sprintf("k%d-%d", g, i/2))
				if n := c.Len(); n > 10 {
					t.Errorf("Len() = %d, exceeds MaxSize", n)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() != 10 {
		t.Errorf("Len() = %d, want 10", c.Len())
	}
}

func TestMemoryCache_DeletePrefix(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()

	for _, k := range []string{
		"player:steam:Ace",
		"player:steam:Ace:stats",
		"player:steam:Bob",
		"season:steam:current",
	} {
		_ = c.Set(ctx, k, k, time.Hour)
	}

	n, err := c.DeletePrefix(ctx, "player:steam:Ace")
	if err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if n != 2 {
		t.Errorf("DeletePrefix removed %d, want 2", n)
	}
	if _, ok := c.Peek("player:steam:Bob"); !ok {
		t.Error("unrelated key was removed")
	}

	// Idempotent
	if n, _ := c.DeletePrefix(ctx, "player:steam:Ace"); n != 0 {
		t.Errorf("second DeletePrefix removed %d, want 0", n)
	}

	if _, err := c.DeletePrefix(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DeletePrefix(\"\") error = %v, want ErrInvalidKey", err)
	}
}

func TestMemoryCache_PurgeExpired(t *testing.T) {
	defer clock.Freeze(clock.Now()).Unfreeze()

	var reasons []RemovalReason
	c := NewMemoryCache(MemoryConfig{
		OnRemove: func(_ string, r RemovalReason) { reasons = append(reasons, r) },
	})
	ctx := context.Background()

	_ = c.Set(ctx, "matches:steam:1", 1, time.Minute)
	_ = c.Set(ctx, "matches:steam:2", 2, time.Minute)
	_ = c.Set(ctx, "season:steam:current", 3, time.Hour)

	clock.Advance(2 * time.Minute)
	if n := c.PurgeExpired(ctx); n != 2 {
		t.Errorf("PurgeExpired() = %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	for _, r := range reasons {
		if r != RemovalExpired {
			t.Errorf("removal reason = %v, want expired", r)
		}
	}
}

func TestMemoryCache_InspectDoesNotTouchStats(t *testing.T) {
	defer clock.Freeze(clock.Now()).Unfreeze()

	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()
	start := clock.Now()

	_ = c.Set(ctx, "player:psn:Ace", "v", 15*time.Minute)
	_, _ = c.Get(ctx, "player:psn:Ace")

	e, ok := c.Inspect("player:psn:Ace")
	if !ok {
		t.Fatal("Inspect should find the entry")
	}
	if e.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", e.AccessCount)
	}
	if !e.CreatedAt.Equal(start) || e.TTL != 15*time.Minute {
		t.Errorf("entry = %+v, want CreatedAt=%v TTL=15m", e, start)
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 0 {
		t.Errorf("Stats() = %+v, Inspect must not count lookups", s)
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	removed := map[string]RemovalReason{}
	c := NewMemoryCache(MemoryConfig{
		OnRemove: func(key string, r RemovalReason) { removed[key] = r },
	})
	ctx := context.Background()

	_ = c.Set(ctx, "a", 1, time.Hour)
	_ = c.Set(ctx, "b", 2, time.Hour)
	_, _ = c.Get(ctx, "a")
	c.Clear(ctx)

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
	if c.Stats().Hits != 1 {
		t.Error("Clear should keep counters")
	}
	if len(removed) != 2 || removed["a"] != RemovalDeleted || removed["b"] != RemovalDeleted {
		t.Errorf("OnRemove saw %v, want a and b deleted", removed)
	}
}

func TestMemoryCache_DefaultMaxSize(t *testing.T) {
	for _, size := range []int{0, -5} {
		c := NewMemoryCache(MemoryConfig{MaxSize: size})
		if got := c.Stats().MaxSize; got != 1000 {
			t.Errorf("MaxSize %d: Stats().MaxSize = %d, want 1000", size, got)
		}
	}
}

func TestRemovalReason_String(t *testing.T) {
	tests := map[RemovalReason]string{
		RemovalEvicted:    "evicted",
		RemovalExpired:    "expired",
		RemovalDeleted:    "deleted",
		RemovalReason(99): "unknown",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
