package governor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mailgun/holster/v4/clock"

	"github.com/hawkbot/hawkcache/cache"
	"github.com/hawkbot/hawkcache/health"
	"github.com/hawkbot/hawkcache/observe"
	"github.com/hawkbot/hawkcache/resilience"
)

func newTestGovernor(t *testing.T, conf Config) *Governor {
	t.Helper()

	if conf.CleanupInterval == 0 {
		conf.CleanupInterval = -1
	}
	if conf.Retry.InitialDelay == 0 {
		conf.Retry.InitialDelay = time.Millisecond
	}
	g, err := New(conf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = g.Close(context.Background()) })
	return g
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_Defaults(t *testing.T) {
	g := newTestGovernor(t, Config{})

	if ttl, _ := g.Policy().TTL(cache.CategoryPlayer); ttl != 15*time.Minute {
		t.Errorf("player TTL = %v, want 15m", ttl)
	}
	if g.Limiter().Config().Capacity != 8 {
		t.Errorf("limiter capacity = %d, want 8", g.Limiter().Config().Capacity)
	}
	if g.conf.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", g.conf.Retry.MaxAttempts)
	}
	if s := g.Stats(); s.CircuitState != "closed" || s.MaxSize != 1000 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestNew_RejectsNegativeTTL(t *testing.T) {
	_, err := New(Config{Policy: cache.DefaultPolicy().WithTTL(cache.CategoryStats, -time.Second)})
	if !errors.Is(err, cache.ErrNegativeTTL) {
		t.Errorf("New() error = %v, want ErrNegativeTTL", err)
	}
}

// TestFetch_HitAfterMiss covers the basic read-through: one upstream call,
// then a hit.
func TestFetch_HitAfterMiss(t *testing.T) {
	g := newTestGovernor(t, Config{})
	ctx := context.Background()

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		calls.Add(1)
		return "account.0f1e2d", nil
	}

	for i := 0; i < 2; i++ {
		v, err := g.Fetch(ctx, "player:steam:Ace", cache.CategoryPlayer, producer)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if v != "account.0f1e2d" {
			t.Fatalf("Fetch() = %v, want account.0f1e2d", v)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("producer calls = %d, want 1", calls.Load())
	}
	s := g.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1 and 1", s.Hits, s.Misses)
	}
	if s.UpstreamCalls != 1 || s.Size != 1 {
		t.Errorf("UpstreamCalls=%d Size=%d, want 1 and 1", s.UpstreamCalls, s.Size)
	}
}

func TestFetch_CoalescesConcurrentMisses(t *testing.T) {
	tests := []struct {
		name    string
		result  any
		err     error
		wantErr bool
	}{
		{name: "value", result: "season-30"},
		{name: "error", err: resilience.Permanent(errors.New("player not found")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGovernor(t, Config{})
			const n = 20

			var calls atomic.Int32
			release := make(chan struct{})
			producer := func(context.Context) (any, error) {
				calls.Add(1)
				<-release
				return tt.result, tt.err
			}

			type result struct {
				v   any
				err error
			}
			results := make(chan result, n)
			for i := 0; i < n; i++ {
				go func() {
					v, err := g.Fetch(context.Background(), "season:steam:current", cache.CategorySeason, producer)
					results <- result{v, err}
				}()
			}

			waitFor(t, "all callers to miss", func() bool { return g.Stats().Misses == n })
			time.Sleep(10 * time.Millisecond)
			close(release)

			for i := 0; i < n; i++ {
				r := <-results
				if tt.wantErr {
					if r.err != tt.err {
						t.Errorf("waiter %d error = %v, want %v", i, r.err, tt.err)
					}
					continue
				}
				if r.err != nil || r.v != tt.result {
					t.Errorf("waiter %d = (%v, %v), want (%v, nil)", i, r.v, r.err, tt.result)
				}
			}

			if calls.Load() != 1 {
				t.Errorf("producer calls = %d, want 1", calls.Load())
			}
			if got := g.InFlight(); got != 0 {
				t.Errorf("InFlight() = %d after completion, want 0", got)
			}
		})
	}
}

func TestFetch_PermanentErrorNotRetried(t *testing.T) {
	g := newTestGovernor(t, Config{})
	notFound := resilience.Permanent(errors.New("player not found"))

	var calls atomic.Int32
	_, err := g.Fetch(context.Background(), "player:steam:Nobody", cache.CategoryPlayer, func(context.Context) (any, error) {
		calls.Add(1)
		return nil, notFound
	})

	if err != notFound {
		t.Errorf("Fetch() error = %v, want %v", err, notFound)
	}
	if calls.Load() != 1 {
		t.Errorf("producer calls = %d, want 1", calls.Load())
	}
	if s := g.Stats(); s.Size != 0 || s.Failures != 1 || s.Retries != 0 {
		t.Errorf("Stats() = %+v, want nothing cached, one failure, no retries", s)
	}
}

func TestFetch_FailureLoggedOnce(t *testing.T) {
	var buf strings.Builder
	logger := observe.NewLoggerWithWriter("debug", &buf)
	mw := observe.NewMiddleware(observe.NopTracer(), observe.NopMetrics(), logger)
	g := newTestGovernor(t, Config{Middleware: mw, Logger: logger})

	notFound := resilience.Permanent(errors.New("player not found"))
	_, err := g.Fetch(context.Background(), "player:steam:Ghost", cache.CategoryPlayer, func(context.Context) (any, error) {
		return nil, notFound
	})
	if !errors.Is(err, notFound) {
		t.Fatalf("Fetch() error = %v, want the producer error", err)
	}

	var failures []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) == nil && entry["level"] == "error" {
			failures = append(failures, entry)
		}
	}
	if len(failures) != 1 {
		t.Fatalf("error lines = %d, want 1:\n%s", len(failures), buf.String())
	}
	if failures[0]["error_kind"] != "permanent" {
		t.Errorf("error_kind = %v, want permanent", failures[0]["error_kind"])
	}

	// The caller's middleware keeps its own classifier.
	buf.Reset()
	_, _ = mw.Wrap(observe.FetchMeta{Category: "player"}, func(context.Context) (any, error) {
		return nil, notFound
	})(context.Background())
	if strings.Contains(buf.String(), `"error_kind":"permanent"`) {
		t.Errorf("governor changed the caller's middleware: %s", buf.String())
	}
}

func TestFetch_TransientErrorRetried(t *testing.T) {
	g := newTestGovernor(t, Config{})

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, resilience.Transient(errors.New("upstream 503"))
		}
		return "stats", nil
	}

	v, err := g.Fetch(context.Background(), "stats:steam:acc:season", cache.CategoryStats, producer)
	if err != nil || v != "stats" {
		t.Fatalf("Fetch() = (%v, %v), want (stats, nil)", v, err)
	}
	if calls.Load() != 3 {
		t.Errorf("producer calls = %d, want 3", calls.Load())
	}
	if s := g.Stats(); s.Retries != 2 || s.UpstreamCalls != 3 || s.Size != 1 {
		t.Errorf("Stats() = %+v, want 2 retries, 3 upstream calls, 1 entry", s)
	}
}

func TestFetch_ExhaustedRetriesNotCached(t *testing.T) {
	g := newTestGovernor(t, Config{DisableBreaker: true})
	cause := errors.New("upstream 503")

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, resilience.Transient(cause)
	}

	_, err := g.Fetch(context.Background(), "matches:steam:m1", cache.CategoryMatches, producer)
	if !errors.Is(err, resilience.ErrMaxRetriesExceeded) || !errors.Is(err, cause) {
		t.Fatalf("Fetch() error = %v, want ErrMaxRetriesExceeded wrapping the cause", err)
	}
	if !resilience.IsTransient(err) {
		t.Errorf("KindOf() = %v, want transient", resilience.KindOf(err))
	}

	_, _ = g.Fetch(context.Background(), "matches:steam:m1", cache.CategoryMatches, producer)
	if calls.Load() != 6 {
		t.Errorf("producer calls = %d, want 6", calls.Load())
	}
}

func TestFetch_TimedOutAttemptsDoNotOverlap(t *testing.T) {
	g := newTestGovernor(t, Config{DisableBreaker: true, AttemptTimeout: 20 * time.Millisecond})

	var calls, running, peak atomic.Int32
	producer := func(context.Context) (any, error) {
		calls.Add(1)
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// Ignores its context on purpose.
		time.Sleep(60 * time.Millisecond)
		running.Add(-1)
		return "late", nil
	}

	v, err := g.Fetch(context.Background(), "matches:steam:m1", cache.CategoryMatches, producer)
	if !errors.Is(err, resilience.ErrTimeout) {
		t.Fatalf("Fetch() = (%v, %v), want ErrTimeout", v, err)
	}
	if calls.Load() != 3 {
		t.Errorf("producer calls = %d, want 3", calls.Load())
	}
	if p := peak.Load(); p != 1 {
		t.Errorf("concurrent producer calls = %d, want 1", p)
	}
	if g.Stats().Size != 0 {
		t.Error("a late value from a timed out attempt was cached")
	}
}

func TestFetch_Validation(t *testing.T) {
	g := newTestGovernor(t, Config{})

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		calls.Add(1)
		return 1, nil
	}

	tests := []struct {
		name     string
		key      string
		category cache.Category
		producer Producer
		want     error
	}{
		{"unknown category", "leaderboard:steam", "leaderboard", producer, cache.ErrUnknownCategory},
		{"empty key", "", cache.CategoryPlayer, producer, cache.ErrInvalidKey},
		{"nil producer", "player:steam:Ace", cache.CategoryPlayer, nil, ErrNilProducer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Fetch(context.Background(), tt.key, tt.category, tt.producer)
			if !errors.Is(err, tt.want) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.want)
			}
		})
	}

	if calls.Load() != 0 {
		t.Errorf("producer calls = %d, want 0", calls.Load())
	}
}

func TestFetch_TTLExpiry(t *testing.T) {
	defer clock.Freeze(clock.Now()).Unfreeze()

	g := newTestGovernor(t, Config{})
	ctx := context.Background()

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		return calls.Add(1), nil
	}

	_, _ = g.Fetch(ctx, "player:steam:Ace", cache.CategoryPlayer, producer)

	clock.Advance(15*time.Minute - time.Second)
	if v, _ := g.Fetch(ctx, "player:steam:Ace", cache.CategoryPlayer, producer); v != int32(1) {
		t.Errorf("Fetch() before TTL = %v, want cached 1", v)
	}

	clock.Advance(time.Second)
	if v, _ := g.Fetch(ctx, "player:steam:Ace", cache.CategoryPlayer, producer); v != int32(2) {
		t.Errorf("Fetch() at TTL = %v, want fresh 2", v)
	}
	if s := g.Stats(); s.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", s.Expirations)
	}
}

func TestInvalidate(t *testing.T) {
	g := newTestGovernor(t, Config{})
	ctx := context.Background()

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		return calls.Add(1), nil
	}

	_, _ = g.Fetch(ctx, "player:steam:Ace", cache.CategoryPlayer, producer)
	if err := g.Invalidate(ctx, "player:steam:Ace"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if err := g.Invalidate(ctx, "player:steam:Ace"); err != nil {
		t.Fatalf("second Invalidate() error = %v", err)
	}

	if _, ok := g.Cache().Get(ctx, "player:steam:Ace"); ok {
		t.Error("Get() after Invalidate hit")
	}
	if v, _ := g.Fetch(ctx, "player:steam:Ace", cache.CategoryPlayer, producer); v != int32(2) {
		t.Errorf("Fetch() after Invalidate = %v, want fresh 2", v)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	g := newTestGovernor(t, Config{})
	ctx := context.Background()
	producer := func(context.Context) (any, error) { return "v", nil }

	entries := []struct {
		key      string
		category cache.Category
	}{
		{"player:steam:Old", cache.CategoryPlayer},
		{"player:steam:Old:stats", cache.CategoryStats},
		{"player:steam:Other", cache.CategoryPlayer},
	}
	for _, e := range entries {
		if _, err := g.Fetch(ctx, e.key, e.category, producer); err != nil {
			t.Fatalf("Fetch(%q) error = %v", e.key, err)
		}
	}

	n, err := g.InvalidatePrefix(ctx, "player:steam:Old")
	if err != nil || n != 2 {
		t.Fatalf("InvalidatePrefix() = (%d, %v), want (2, nil)", n, err)
	}
	if g.Stats().Size != 1 {
		t.Errorf("Size = %d, want 1", g.Stats().Size)
	}

	if _, err := g.InvalidatePrefix(ctx, ""); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("InvalidatePrefix(\"\") error = %v, want ErrInvalidKey", err)
	}
}

func TestClear(t *testing.T) {
	g := newTestGovernor(t, Config{})
	ctx := context.Background()

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		return calls.Add(1), nil
	}
	for _, key := range []string{"player:steam:Ace", "season:steam:current", "match:steam:m1"} {
		if _, err := g.Fetch(ctx, key, cache.CategoryPlayer, producer); err != nil {
			t.Fatalf("Fetch(%q) error = %v", key, err)
		}
	}

	if n := g.Clear(ctx); n != 3 {
		t.Errorf("Clear() = %d, want 3", n)
	}
	if g.Stats().Size != 0 {
		t.Errorf("Size = %d, want 0", g.Stats().Size)
	}
	if n := g.Clear(ctx); n != 0 {
		t.Errorf("second Clear() = %d, want 0", n)
	}
	if v, _ := g.Fetch(ctx, "player:steam:Ace", cache.CategoryPlayer, producer); v != int32(4) {
		t.Errorf("Fetch() after Clear = %v, want fresh 4", v)
	}
}

// TestInvalidate_RacingFetchesNeverCacheStale interleaves fetches with
// invalidations. Each producer returns the generation it started in, so a
// cached value older than the last invalidation is a stale write.
func TestInvalidate_RacingFetchesNeverCacheStale(t *testing.T) {
	g := newTestGovernor(t, Config{
		Limiter:        resilience.RateLimiterConfig{Capacity: 10000, Window: time.Second},
		DisableBreaker: true,
	})
	ctx := context.Background()
	const key = "player:steam:Ace"

	var generation atomic.Int64
	producer := func(context.Context) (any, error) {
		v := generation.Load()
		time.Sleep(time.Millisecond)
		return v, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_, _ = g.Fetch(ctx, key, cache.CategoryPlayer, producer)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 100 {
			generation.Add(1)
			_ = g.Invalidate(ctx, key)
			time.Sleep(100 * time.Microsecond)
		}
	}()
	wg.Wait()

	if got := g.InFlight(); got != 0 {
		t.Errorf("InFlight() = %d after all fetches returned, want 0", got)
	}
	if v, ok := g.Cache().Peek(key); ok && v != generation.Load() {
		t.Errorf("cached generation %v, want %d", v, generation.Load())
	}
}

// TestInvalidate_ForgetsRunningCall checks a result fetched before an
// invalidation is delivered but not cached, and later callers start over.
func TestInvalidate_ForgetsRunningCall(t *testing.T) {
	g := newTestGovernor(t, Config{})
	ctx := context.Background()
	const key = "player:steam:Old"

	release1 := make(chan struct{})
	first := make(chan any, 1)
	go func() {
		v, _ := g.Fetch(ctx, key, cache.CategoryPlayer, func(context.Context) (any, error) {
			<-release1
			return "stale", nil
		})
		first <- v
	}()
	waitFor(t, "first call in flight", func() bool { return g.InFlight() == 1 })

	if _, err := g.InvalidatePrefix(ctx, key); err != nil {
		t.Fatalf("InvalidatePrefix() error = %v", err)
	}
	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d after invalidation, want 0", g.InFlight())
	}

	release2 := make(chan struct{})
	second := make(chan any, 1)
	go func() {
		v, _ := g.Fetch(ctx, key, cache.CategoryPlayer, func(context.Context) (any, error) {
			<-release2
			return "fresh", nil
		})
		second <- v
	}()
	waitFor(t, "second call in flight", func() bool { return g.InFlight() == 1 })

	close(release1)
	if v := <-first; v != "stale" {
		t.Errorf("first waiter got %v, want stale", v)
	}
	if _, ok := g.Cache().Peek(key); ok {
		t.Error("result of the invalidated call was cached")
	}

	close(release2)
	if v := <-second; v != "fresh" {
		t.Errorf("second waiter got %v, want fresh", v)
	}
	if v, _ := g.Cache().Peek(key); v != "fresh" {
		t.Errorf("cached value = %v, want fresh", v)
	}
}

func TestFetch_CancelledWaiterLeavesProducerRunning(t *testing.T) {
	g := newTestGovernor(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	producerErr := make(chan error, 1)
	errc := make(chan error, 1)
	go func() {
		_, err := g.Fetch(ctx, "stats:steam:acc", cache.CategoryStats, func(pctx context.Context) (any, error) {
			<-release
			producerErr <- pctx.Err()
			return "stats", nil
		})
		errc <- err
	}()
	waitFor(t, "call in flight", func() bool { return g.InFlight() == 1 })

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch() error = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-producerErr; err != nil {
		t.Errorf("producer context error = %v, want nil", err)
	}
	waitFor(t, "result cached", func() bool {
		_, ok := g.Cache().Peek("stats:steam:acc")
		return ok
	})
}

func TestFetch_RateLimitSpacesCalls(t *testing.T) {
	g := newTestGovernor(t, Config{
		Limiter: resilience.RateLimiterConfig{Capacity: 2, Window: 200 * time.Millisecond},
	})
	ctx := context.Background()
	producer := func(context.Context) (any, error) { return 1, nil }

	start := time.Now()
	for _, key := range []string{"matches:steam:1", "matches:steam:2", "matches:steam:3"} {
		if _, err := g.Fetch(ctx, key, cache.CategoryMatches, producer); err != nil {
			t.Fatalf("Fetch(%q) error = %v", key, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three calls through a 2-token bucket took %v, want ~100ms", elapsed)
	}
}

func TestFetch_RetryAfterBlocksLimiter(t *testing.T) {
	g := newTestGovernor(t, Config{
		Limiter: resilience.RateLimiterConfig{Capacity: 8, Window: 80 * time.Millisecond},
	})

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, &resilience.Error{Kind: resilience.KindTransient, StatusCode: 429, RetryAfter: 40 * time.Millisecond}
		}
		return "ok", nil
	}

	start := time.Now()
	v, err := g.Fetch(context.Background(), "player:steam:Busy", cache.CategoryPlayer, producer)
	if err != nil || v != "ok" {
		t.Fatalf("Fetch() = (%v, %v), want (ok, nil)", v, err)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("retry after 429 happened after %v, want >= 40ms", elapsed)
	}
	if g.Limiter().BlockedUntil().IsZero() {
		t.Error("limiter was not blocked by Retry-After")
	}
}

func TestFetch_ProducerPanic(t *testing.T) {
	g := newTestGovernor(t, Config{})

	_, err := g.Fetch(context.Background(), "player:steam:Boom", cache.CategoryPlayer, func(context.Context) (any, error) {
		panic("nil map")
	})
	if !errors.Is(err, ErrProducerPanic) || !resilience.IsPermanent(err) {
		t.Errorf("Fetch() error = %v, want permanent ErrProducerPanic", err)
	}
}

func TestFetch_CircuitOpens(t *testing.T) {
	g := newTestGovernor(t, Config{
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
		Breaker: resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	ctx := context.Background()

	var calls atomic.Int32
	producer := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, resilience.Transient(errors.New("upstream 502"))
	}

	for i := 0; i < 2; i++ {
		_, _ = g.Fetch(ctx, "season:steam:current", cache.CategorySeason, producer)
	}
	_, err := g.Fetch(ctx, "season:steam:current", cache.CategorySeason, producer)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Fetch() error = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != 2 {
		t.Errorf("producer calls = %d, want 2", calls.Load())
	}

	res := NewChecker(g).Check(ctx)
	if res.Status != health.StatusUnhealthy {
		t.Errorf("Check() status = %v, want unhealthy", res.Status)
	}
}

func TestFetchAs(t *testing.T) {
	g := newTestGovernor(t, Config{})
	ctx := context.Background()

	type player struct{ ID, Name string }

	p, err := FetchAs(ctx, g, "player:steam:Ace", cache.CategoryPlayer, func(context.Context) (*player, error) {
		return &player{ID: "account.1", Name: "Ace"}, nil
	})
	if err != nil || p.ID != "account.1" {
		t.Fatalf("FetchAs() = (%+v, %v)", p, err)
	}

	_, err = FetchAs(ctx, g, "player:steam:Ace", cache.CategoryPlayer, func(context.Context) (string, error) {
		return "unused", nil
	})
	if !errors.Is(err, ErrUnexpectedType) {
		t.Errorf("FetchAs() with wrong type error = %v, want ErrUnexpectedType", err)
	}
}

func TestClose(t *testing.T) {
	g, err := New(Config{CleanupInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	started := make(chan struct{})
	var once sync.Once
	errc := make(chan error, 1)
	go func() {
		_, err := g.Fetch(context.Background(), "player:steam:Slow", cache.CategoryPlayer, func(ctx context.Context) (any, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		})
		errc <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("running Fetch error = %v, want context.Canceled", err)
	}

	_, err = g.Fetch(context.Background(), "player:steam:Ace", cache.CategoryPlayer, func(context.Context) (any, error) {
		return 1, nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Fetch() after Close error = %v, want ErrClosed", err)
	}
	if err := g.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestChecker(t *testing.T) {
	g := newTestGovernor(t, Config{})
	c := NewChecker(g)

	if c.Name() != "governor" {
		t.Errorf("Name() = %q, want governor", c.Name())
	}
	if res := c.Check(context.Background()); res.Status != health.StatusHealthy {
		t.Errorf("Check() = %v, want healthy", res.Status)
	}

	g.Limiter().BlockFor(time.Minute)
	if res := c.Check(context.Background()); res.Status != health.StatusDegraded {
		t.Errorf("Check() while blocked = %v, want degraded", res.Status)
	}
}

func TestShardOf(t *testing.T) {
	tests := map[string]string{
		"player:steam:Ace":   "steam",
		"season:psn:current": "psn",
		"player:steam":       "",
		"bare":               "",
	}
	for key, want := range tests {
		if got := shardOf(key); got != want {
			t.Errorf("shardOf(%q) = %q, want %q", key, got, want)
		}
	}
}
