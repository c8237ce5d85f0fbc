package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hawkbot/hawkcache/auth"
	"github.com/hawkbot/hawkcache/governor"
	"github.com/hawkbot/hawkcache/health"
	"github.com/hawkbot/hawkcache/observe"
	"github.com/hawkbot/hawkcache/pubg"
	"github.com/hawkbot/hawkcache/resilience"
)

type handlerConfig struct {
	Governor *governor.Governor
	Service  *pubg.Service
	Health   *health.Aggregator
	Auth     *auth.Middleware
	Gatherer prometheus.Gatherer
	Logger   observe.Logger
}

type server struct {
	gov *governor.Governor
	svc *pubg.Service
	log observe.Logger
}

// newHandler routes the dashboard. Probes and metrics are open; everything
// that shows cached data needs a viewer and mutations need an operator.
func newHandler(conf handlerConfig) http.Handler {
	if conf.Logger == nil {
		conf.Logger = observe.NopLogger()
	}
	s := &server{
		gov: conf.Governor,
		svc: conf.Service,
		log: conf.Logger.With(observe.F("component", "dashboard")),
	}

	mux := http.NewServeMux()
	health.RegisterHandlers(mux, conf.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(conf.Gatherer, promhttp.HandlerOpts{}))

	mux.Handle("GET /stats", conf.Auth.RequireFunc(auth.RoleViewer, s.handleStats))
	mux.Handle("POST /invalidate", conf.Auth.RequireFunc(auth.RoleOperator, s.handleInvalidate))
	mux.Handle("GET /entries/{key...}", conf.Auth.RequireFunc(auth.RoleViewer, s.handleEntry))
	mux.Handle("GET /players/{shard}", conf.Auth.RequireFunc(auth.RoleViewer, s.handlePlayers))
	mux.Handle("GET /players/{shard}/{name}", conf.Auth.RequireFunc(auth.RoleViewer, s.handlePlayer))
	mux.Handle("DELETE /players/{shard}/{name}", conf.Auth.RequireFunc(auth.RoleOperator, s.handleReregister))

	return otelhttp.NewHandler(mux, "hawkcache.dashboard")
}

type statsResponse struct {
	governor.Stats
	HitRate float64 `json:"hit_rate"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.gov.Stats()
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats, HitRate: stats.HitRate()})
}

type invalidateResponse struct {
	Key     string `json:"key,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
	All     bool   `json:"all,omitempty"`
	Removed int    `json:"removed"`
}

// handleInvalidate drops one key (?key=), every key under a prefix
// (?prefix=) or the whole cache (?all=true).
func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.URL.Query().Get("key")
	prefix := r.URL.Query().Get("prefix")

	switch {
	case queryFlag(r, "all") && key == "" && prefix == "":
		n := s.gov.Clear(ctx)
		s.log.Info(ctx, "cache cleared from dashboard",
			observe.F("removed", n),
			observe.F("principal", auth.PrincipalFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, invalidateResponse{All: true, Removed: n})
	case key != "" && prefix == "":
		_, cached := s.gov.Cache().Peek(key)
		if err := s.gov.Invalidate(ctx, key); err != nil {
			s.fail(ctx, w, err)
			return
		}
		resp := invalidateResponse{Key: key}
		if cached {
			resp.Removed = 1
		}
		s.log.Info(ctx, "cache key invalidated",
			observe.F("key", key),
			observe.F("principal", auth.PrincipalFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, resp)
	case prefix != "" && key == "":
		n, err := s.gov.InvalidatePrefix(ctx, prefix)
		if err != nil {
			s.fail(ctx, w, err)
			return
		}
		s.log.Info(ctx, "cache prefix invalidated",
			observe.F("prefix", prefix),
			observe.F("removed", n),
			observe.F("principal", auth.PrincipalFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, invalidateResponse{Prefix: prefix, Removed: n})
	default:
		writeError(w, http.StatusBadRequest, "exactly one of key, prefix or all is required")
	}
}

type entryResponse struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	TTL          string    `json:"ttl"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
}

// handleEntry shows the bookkeeping of one cached entry. Looking it up here
// does not count as a hit or refresh its recency.
func (s *server) handleEntry(w http.ResponseWriter, r *http.Request) {
	e, ok := s.gov.Cache().Inspect(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "not cached")
		return
	}
	resp := entryResponse{
		Key:          e.Key,
		CreatedAt:    e.CreatedAt,
		ExpiresAt:    e.ExpiresAt(),
		TTL:          e.TTL.String(),
		LastAccessed: e.LastAccessed,
		AccessCount:  e.AccessCount,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePlayer serves a player profile, or the full report with ?report=1.
func (s *server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shard, err := pubg.ParseShard(r.PathValue("shard"))
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	name := r.PathValue("name")

	if wantReport(r) {
		report, err := s.svc.PlayerReport(ctx, shard, name)
		if err != nil {
			s.fail(ctx, w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	player, err := s.svc.PlayerByName(ctx, shard, name)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

type playerResult struct {
	Name   string       `json:"name"`
	Player *pubg.Player `json:"player,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// handlePlayers looks up ?names=a,b,c in one batch.
func (s *server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shard, err := pubg.ParseShard(r.PathValue("shard"))
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	var names []string
	for _, n := range strings.Split(r.URL.Query().Get("names"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		writeError(w, http.StatusBadRequest, "names is required")
		return
	}

	results, err := s.svc.Players(ctx, shard, names)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	out := make([]playerResult, len(results))
	for i, res := range results {
		out[i].Name = res.Name
		if res.Err != nil {
			out[i].Error = pubg.UserMessage(res.Err)
			continue
		}
		out[i].Player = &res.Player
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReregister forgets everything cached for a player's old name.
func (s *server) handleReregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shard, err := pubg.ParseShard(r.PathValue("shard"))
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	n, err := s.svc.Reregister(ctx, shard, r.PathValue("name"))
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponse{
		Prefix:  "player:" + shard.String() + ":" + strings.TrimSpace(r.PathValue("name")),
		Removed: n,
	})
}

// fail writes the user-facing message for err with a matching status.
func (s *server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Warn(ctx, "dashboard request failed",
			observe.F("status", code),
			observe.F("error", err),
		)
	}
	writeError(w, code, pubg.UserMessage(err))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, pubg.ErrInvalidShard),
		errors.Is(err, pubg.ErrInvalidPlayer),
		errors.Is(err, pubg.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, pubg.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, governor.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		resilience.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func wantReport(r *http.Request) bool { return queryFlag(r, "report") }

// queryFlag reads a boolean query parameter.
func queryFlag(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
