package pubg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hawkbot/hawkcache/resilience"
)

const (
	mediaType       = "application/vnd.api+json"
	maxResponseSize = 16 << 20
)

// ClientConfig configures the PUBG API client.
type ClientConfig struct {
	// APIKey is the developer API key. Required.
	APIKey string

	// BaseURL is the API root.
	// Default: "https://api.pubg.com"
	BaseURL string

	// HTTPClient performs the requests. Its own Timeout should be zero or
	// longer than the governor's attempt timeout.
	// Default: a client with an OpenTelemetry transport
	HTTPClient *http.Client

	// DefaultRetryAfter is the pause assumed for a 429 response that names
	// no reset time.
	// Default: 60 seconds
	DefaultRetryAfter time.Duration

	UserAgent string
}

// Client is a thin PUBG API client. Every method performs exactly one HTTP
// request; caching and rate limiting belong to the caller.
type Client struct {
	config  ClientConfig
	baseURL *url.URL
	http    *http.Client
}

// NewClient creates a PUBG API client.
func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	setter.SetDefault(&config.BaseURL, "https://api.pubg.com")
	setter.SetDefault(&config.DefaultRetryAfter, 60*time.Second)
	setter.SetDefault(&config.UserAgent, "hawkcache")

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("pubg: parse base url: %w", err)
	}

	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Client{
		config:  config,
		baseURL: base,
		http:    hc,
	}, nil
}

// PlayerByName looks a player up by exact account name.
func (c *Client) PlayerByName(ctx context.Context, shard Shard, name string) (Player, error) {
	if err := shard.Validate(); err != nil {
		return Player{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ",") {
		return Player{}, resilience.Permanent(fmt.Errorf("%w: %q", ErrInvalidPlayer, name))
	}

	var doc playersDocument
	q := url.Values{"filter[playerNames]": {name}}
	if err := c.get(ctx, "GET /players", shardPath(shard, "players"), q, ErrPlayerNotFound, &doc); err != nil {
		return Player{}, err
	}
	if len(doc.Data) == 0 {
		return Player{}, resilience.Permanent(fmt.Errorf("%w: %q", ErrPlayerNotFound, name))
	}
	return doc.Data[0].player(shard), nil
}

// Seasons lists the seasons of a shard.
func (c *Client) Seasons(ctx context.Context, shard Shard) ([]Season, error) {
	if err := shard.Validate(); err != nil {
		return nil, err
	}

	var doc seasonsDocument
	if err := c.get(ctx, "GET /seasons", shardPath(shard, "seasons"), nil, ErrNoSeason, &doc); err != nil {
		return nil, err
	}
	return doc.seasons(), nil
}

// SeasonStats returns a player's statistics for a season.
func (c *Client) SeasonStats(ctx context.Context, shard Shard, playerID, seasonID string) (SeasonStats, error) {
	if err := shard.Validate(); err != nil {
		return SeasonStats{}, err
	}

	var doc seasonStatsDocument
	path := shardPath(shard, "players", playerID, "seasons", seasonID)
	if err := c.get(ctx, "GET /players/seasons", path, nil, ErrNotFound, &doc); err != nil {
		return SeasonStats{}, err
	}
	return doc.stats(shard, playerID, seasonID), nil
}

// Match returns the summary of a match.
func (c *Client) Match(ctx context.Context, shard Shard, matchID string) (Match, error) {
	if err := shard.Validate(); err != nil {
		return Match{}, err
	}

	var doc matchDocument
	if err := c.get(ctx, "GET /matches", shardPath(shard, "matches", matchID), nil, ErrMatchNotFound, &doc); err != nil {
		return Match{}, err
	}
	return doc.match(shard), nil
}

// get performs one GET and decodes the JSON:API document into out.
// notFound is the error wrapped for a 404.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, notFound error, out any) error {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("pubg: %s: %w", op, err))
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", mediaType)
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &resilience.Error{Kind: resilience.KindOf(err), Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return c.statusError(op, resp, notFound)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		kind := resilience.KindPermanent
		if errors.Is(err, io.ErrUnexpectedEOF) {
			kind = resilience.KindTransient
		}
		return &resilience.Error{Kind: kind, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}
	return nil
}

// statusError classifies a non-200 response.
func (c *Client) statusError(op string, resp *http.Response, notFound error) error {
	e := &resilience.Error{Kind: resilience.KindPermanent, Op: op, StatusCode: resp.StatusCode}

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		e.Err = notFound
	case code == http.StatusBadRequest, code == http.StatusUnsupportedMediaType:
		e.Err = ErrBadRequest
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		e.Err = ErrUnauthorized
	case code == http.StatusTooManyRequests:
		e.Kind = resilience.KindTransient
		e.Err = ErrRateLimited
		e.RetryAfter = c.retryAfter(resp.Header)
	case code >= 500:
		e.Kind = resilience.KindTransient
		e.Err = ErrUpstream
	default:
		e.Err = ErrUnexpected
	}
	return e
}

// retryAfter reads Retry-After (seconds or HTTP date), then the PUBG
// X-RateLimit-Reset epoch, and falls back to DefaultRetryAfter.
func (c *Client) retryAfter(h http.Header) time.Duration {
	now := clock.Now()

	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return c.config.DefaultRetryAfter
}

func shardPath(shard Shard, parts ...string) string {
	elems := make([]string, 0, len(parts)+2)
	elems = append(elems, "shards", string(shard))
	for _, p := range parts {
		elems = append(elems, url.PathEscape(p))
	}
	return strings.Join(elems, "/")
}
