package auth

import (
	"slices"
	"time"

	"github.com/mailgun/holster/v4/clock"
)

// AuthMethod indicates how authentication was performed.
type AuthMethod string

const (
	AuthMethodNone      AuthMethod = "none"
	AuthMethodJWT       AuthMethod = "jwt"
	AuthMethodAPIKey    AuthMethod = "api_key"
	AuthMethodComposite AuthMethod = "composite"
)

// Role is a dashboard permission level.
type Role string

const (
	// RoleViewer may read statistics and health details.
	RoleViewer Role = "viewer"
	// RoleOperator may also invalidate cached data. It implies RoleViewer.
	RoleOperator Role = "operator"
)

// Identity represents an authenticated principal.
type Identity struct {
	// Principal is the unique identifier (Discord user, service name).
	Principal string

	Roles []string

	// Method indicates how authentication was performed.
	Method AuthMethod

	// Claims contains the raw token claims or API key metadata.
	Claims map[string]any

	// ExpiresAt is when this identity expires (zero = never).
	ExpiresAt time.Time

	IssuedAt time.Time
}

// HasRole reports whether role is listed in the identity's roles.
func (id *Identity) HasRole(role string) bool {
	return slices.Contains(id.Roles, role)
}

// Can reports whether the identity holds role or a role implying it.
func (id *Identity) Can(role Role) bool {
	if id.HasRole(string(role)) {
		return true
	}
	return role == RoleViewer && id.HasRole(string(RoleOperator))
}

// IsExpired checks if the identity has expired.
func (id *Identity) IsExpired() bool {
	if id.ExpiresAt.IsZero() {
		return false
	}
	return clock.Now().After(id.ExpiresAt)
}
