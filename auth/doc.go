// Package auth authenticates requests to the hawkcache dashboard.
//
// The dashboard exposes cache statistics and lets an operator invalidate
// cached PUBG data. Callers present either an API key (X-API-Key) or an
// HMAC-signed JWT (Authorization: Bearer ...). [Middleware] authenticates
// the request, checks the identity's [Role] and stores the identity in the
// request context.
package auth
