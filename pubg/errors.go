package pubg

import (
	"context"
	"errors"
	"fmt"

	"github.com/hawkbot/hawkcache/governor"
	"github.com/hawkbot/hawkcache/resilience"
)

var (
	// ErrMissingAPIKey is returned by NewClient without an API key.
	ErrMissingAPIKey = errors.New("pubg: api key is required")

	// ErrInvalidShard is returned for platforms other than steam, psn, xbox
	// and kakao.
	ErrInvalidShard = errors.New("pubg: invalid shard")

	// ErrNotFound is returned for a 404 response.
	ErrNotFound = errors.New("pubg: not found")

	// ErrPlayerNotFound is returned when no player has the requested name.
	ErrPlayerNotFound = fmt.Errorf("%w: player", ErrNotFound)

	// ErrMatchNotFound is returned for unknown or expired match ids.
	ErrMatchNotFound = fmt.Errorf("%w: match", ErrNotFound)

	// ErrNoSeason is returned when a shard lists no seasons.
	ErrNoSeason = fmt.Errorf("%w: season", ErrNotFound)

	ErrBadRequest    = errors.New("pubg: bad request")
	ErrUnauthorized  = errors.New("pubg: unauthorized")
	ErrRateLimited   = errors.New("pubg: rate limited")
	ErrUpstream      = errors.New("pubg: upstream error")
	ErrUnexpected    = errors.New("pubg: unexpected response")
	ErrDecode        = errors.New("pubg: decode response")
	ErrInvalidPlayer = errors.New("pubg: invalid player name")
)

// Messages returned by UserMessage.
const (
	MsgPlayerNotFound = "Player not found. Check the name and the platform."
	MsgInvalidShard   = "Unknown platform. Use steam, psn, xbox or kakao."
	MsgTryLater       = "The PUBG API is busy right now. Please try again in a minute."
	MsgMisconfigured  = "The PUBG integration is not configured correctly. Please contact an admin."
	MsgNoData         = "No data is available for that request."
)

// UserMessage maps an error from this package to a message for the Discord
// reply. Transient failures ask the user to retry later; permanent ones say
// the data does not exist. It returns "" for a nil error.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrInvalidPlayer):
		return MsgPlayerNotFound
	case errors.Is(err, ErrInvalidShard):
		return MsgInvalidShard
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrMissingAPIKey):
		return MsgMisconfigured
	case errors.Is(err, governor.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		resilience.IsTransient(err):
		return MsgTryLater
	}
	return MsgNoData
}
