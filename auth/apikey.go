package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"
)

// APIKeyConfig configures APIKeyAuthenticator.
type APIKeyConfig struct {
	// HeaderName carries the key.
	// Default: "X-API-Key"
	HeaderName string
}

// APIKeyInfo is a registered dashboard key. The key itself is never
// stored, only its SHA-256 hex digest.
type APIKeyInfo struct {
	ID        string
	KeyHash   string
	Principal string
	Roles     []string

	// ExpiresAt of zero means the key never expires.
	ExpiresAt time.Time

	// Metadata is copied into the identity claims.
	Metadata map[string]any
}

// NewAPIKeyInfo registers key for principal with the given roles.
func NewAPIKeyInfo(id, key, principal string, roles ...Role) *APIKeyInfo {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	return &APIKeyInfo{ID: id, KeyHash: HashAPIKey(key), Principal: principal, Roles: names}
}

func (i *APIKeyInfo) expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

func (i *APIKeyInfo) identity() *Identity {
	claims := maps.Clone(i.Metadata)
	if claims == nil {
		claims = map[string]any{}
	}
	claims["key_id"] = i.ID

	return &Identity{
		Principal: i.Principal,
		Roles:     i.Roles,
		Method:    AuthMethodAPIKey,
		ExpiresAt: i.ExpiresAt,
		Claims:    claims,
	}
}

// APIKeyStore finds keys by hash.
type APIKeyStore interface {
	// Lookup returns nil, nil for an unknown hash.
	Lookup(ctx context.Context, keyHash string) (*APIKeyInfo, error)
}

// APIKeyAuthenticator accepts requests that present a known key in a
// header.
type APIKeyAuthenticator struct {
	header string
	store  APIKeyStore
}

func NewAPIKeyAuthenticator(config APIKeyConfig, store APIKeyStore) *APIKeyAuthenticator {
	setter.SetDefault(&config.HeaderName, "X-API-Key")
	return &APIKeyAuthenticator{header: config.HeaderName, store: store}
}

func (a *APIKeyAuthenticator) Name() string { return "api_key" }

// Supports reports whether the key header is present.
func (a *APIKeyAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	return req.GetHeader(a.header) != ""
}

// Authenticate looks the presented key up by hash. Unknown and expired
// keys produce a failed result; only store errors are returned as errors.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	key := strings.TrimSpace(req.GetHeader(a.header))
	if key == "" {
		return AuthFailure(ErrMissingCredentials, AuthMethodAPIKey), nil
	}

	info, err := a.store.Lookup(ctx, HashAPIKey(key))
	switch {
	case err != nil:
		return nil, err
	case info == nil:
		return AuthFailure(ErrInvalidCredentials, AuthMethodAPIKey), nil
	case info.expired(clock.Now()):
		return AuthFailure(ErrTokenExpired, AuthMethodAPIKey), nil
	}
	return AuthSuccess(info.identity()), nil
}

// HashAPIKey returns the hex SHA-256 digest stored for key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MemoryAPIKeyStore holds keys in a map; the dashboard registers its
// operator and viewer keys here at startup.
type MemoryAPIKeyStore struct {
	mu     sync.RWMutex
	byHash map[string]*APIKeyInfo
}

func NewMemoryAPIKeyStore(infos ...*APIKeyInfo) *MemoryAPIKeyStore {
	s := &MemoryAPIKeyStore{byHash: make(map[string]*APIKeyInfo, len(infos))}
	for _, info := range infos {
		s.Add(info)
	}
	return s
}

func (s *MemoryAPIKeyStore) Lookup(_ context.Context, keyHash string) (*APIKeyInfo, error) {
	s.mu.RLock()
	info := s.byHash[keyHash]
	s.mu.RUnlock()
	return info, nil
}

// Add stores info, replacing any key with the same hash.
func (s *MemoryAPIKeyStore) Add(info *APIKeyInfo) {
	s.mu.Lock()
	s.byHash[info.KeyHash] = info
	s.mu.Unlock()
}

func (s *MemoryAPIKeyStore) Remove(keyHash string) {
	s.mu.Lock()
	delete(s.byHash, keyHash)
	s.mu.Unlock()
}

var (
	_ Authenticator = (*APIKeyAuthenticator)(nil)
	_ APIKeyStore   = (*MemoryAPIKeyStore)(nil)
)
