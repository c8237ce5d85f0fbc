package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mailgun/holster/v4/setter"

	"github.com/hawkbot/hawkcache/observe"
)

// MiddlewareConfig configures the HTTP authentication middleware.
type MiddlewareConfig struct {
	// Authenticator validates request credentials. Required.
	Authenticator Authenticator

	// Realm is sent in the WWW-Authenticate challenge.
	// Default: "hawkcache"
	Realm string

	// Logger receives a line for every rejected request.
	// Default: no-op.
	Logger observe.Logger
}

// Middleware guards dashboard handlers.
type Middleware struct {
	config MiddlewareConfig
}

// NewMiddleware creates the authentication middleware.
func NewMiddleware(config MiddlewareConfig) *Middleware {
	setter.SetDefault(&config.Realm, "hawkcache")
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	return &Middleware{config: config}
}

// Require wraps next so it only runs for identities holding role.
// Unauthenticated requests get 401 and identities lacking the role get 403.
// The identity is available to next through IdentityFromContext.
func (m *Middleware) Require(role Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req := NewAuthRequest(r)
		log := m.config.Logger.With(
			observe.F("resource", req.Resource),
			observe.F("remote_addr", r.RemoteAddr),
		)

		authn := m.config.Authenticator
		if authn == nil || !authn.Supports(ctx, req) {
			m.challenge(w, ErrMissingCredentials)
			return
		}

		result, err := authn.Authenticate(ctx, req)
		if err != nil {
			log.Error(ctx, "authentication error", observe.F("error", err))
			writeError(w, http.StatusInternalServerError, errors.New("authentication unavailable"))
			return
		}
		if !result.Authenticated {
			log.Warn(ctx, "authentication rejected",
				observe.F("method", string(result.Method)),
				observe.F("error", result.Error),
			)
			m.challenge(w, result.Error)
			return
		}

		identity := result.Identity
		if identity.IsExpired() {
			m.challenge(w, ErrTokenExpired)
			return
		}
		if err := Authorize(identity, req.Resource, role); err != nil {
			log.Warn(ctx, "authorization denied",
				observe.F("principal", identity.Principal),
				observe.F("role", string(role)),
			)
			writeError(w, http.StatusForbidden, ErrForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
	})
}

// RequireFunc is Require for a handler function.
func (m *Middleware) RequireFunc(role Role, next http.HandlerFunc) http.Handler {
	return m.Require(role, next)
}

func (m *Middleware) challenge(w http.ResponseWriter, err error) {
	if err == nil {
		err = ErrInvalidCredentials
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+m.config.Realm+`"`)
	// Token details are not echoed to the client.
	switch {
	case errors.Is(err, ErrTokenExpired):
		err = ErrTokenExpired
	case errors.Is(err, ErrMissingCredentials):
		err = ErrMissingCredentials
	default:
		err = ErrInvalidCredentials
	}
	writeError(w, http.StatusUnauthorized, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
