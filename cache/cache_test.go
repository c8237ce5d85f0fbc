package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

// TestCacheKey_Validation tests key validation rules.
func TestCacheKey_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty key", "", ErrInvalidKey},
		{"valid key", "player:steam:Ace", nil},
		{"too long", strings.Repeat("x", MaxKeyLength+1), ErrKeyTooLong},
		{"contains newline", "key\nwith\nnewlines", ErrInvalidKey},
		{"contains carriage return", "key\rwith\rreturns", ErrInvalidKey},
		{"whitespace only", "   ", ErrInvalidKey},
		{"max length exactly", strings.Repeat("x", MaxKeyLength), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateKey(%q) = %v, want nil", tt.key, err)
				}
			} else {
				if err != tt.wantErr {
					t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
				}
			}
		})
	}
}

func TestEntry_Valid(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{Key: "season:steam:current", CreatedAt: created, TTL: time.Hour}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"at creation", created, true},
		{"just before expiry", created.Add(time.Hour - time.Nanosecond), true},
		{"at expiry", created.Add(time.Hour), false},
		{"after expiry", created.Add(2 * time.Hour), false},
	}
	for _, tt := range tests {
		if got := e.Valid(tt.now); got != tt.want {
			t.Errorf("%s: Valid() = %v, want %v", tt.name, got, tt.want)
		}
	}
	if got := e.ExpiresAt(); !got.Equal(created.Add(time.Hour)) {
		t.Errorf("ExpiresAt() = %v, want %v", got, created.Add(time.Hour))
	}
}

func TestStats_HitRate(t *testing.T) {
	if got := (Stats{}).HitRate(); got != 0 {
		t.Errorf("HitRate() on empty stats = %v, want 0", got)
	}
	if got := (Stats{Hits: 3, Misses: 1}).HitRate(); got != 0.75 {
		t.Errorf("HitRate() = %v, want 0.75", got)
	}
}

// TestCacheInterface_CompileCheck verifies the Cache interface contract.
func TestCacheInterface_CompileCheck(t *testing.T) {
	var _ Cache = (*mockCache)(nil)
}

// mockCache is a test double that implements Cache interface.
type mockCache struct{}

func (m *mockCache) Get(ctx context.Context, key string) (any, bool) { return nil, false }
func (m *mockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}
func (m *mockCache) Delete(ctx context.Context, key string) error { return nil }
func (m *mockCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}
func (m *mockCache) PurgeExpired(ctx context.Context) int { return 0 }
func (m *mockCache) Stats() Stats                          { return Stats{} }
