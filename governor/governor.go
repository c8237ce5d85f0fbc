package governor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mailgun/holster/v4/setter"
	"golang.org/x/sync/singleflight"

	"github.com/hawkbot/hawkcache/cache"
	"github.com/hawkbot/hawkcache/observe"
	"github.com/hawkbot/hawkcache/resilience"
)

// Producer performs one upstream call for a cache key.
type Producer func(ctx context.Context) (any, error)

// Config configures a Governor.
type Config struct {
	// Cache configures the response cache owned by the governor.
	Cache cache.MemoryConfig

	// Policy maps categories to TTLs.
	// Default: cache.DefaultPolicy()
	Policy cache.Policy

	// Limiter configures the token bucket shared by all upstream calls.
	// Default: 8 calls per 60 seconds
	Limiter resilience.RateLimiterConfig

	// Retry configures backoff for transient failures.
	// Default: 3 attempts, 1s doubling up to 30s
	Retry resilience.RetryConfig

	// Breaker configures the circuit breaker around the upstream.
	Breaker resilience.CircuitBreakerConfig

	// DisableBreaker removes the circuit breaker from the pipeline.
	DisableBreaker bool

	// AttemptTimeout bounds a single upstream attempt.
	// Default: 30 seconds
	AttemptTimeout time.Duration

	// CleanupInterval is the period of the expired-entry sweep.
	// Default: 5 minutes. Negative disables the sweep.
	CleanupInterval time.Duration

	// Middleware wraps each upstream call with tracing, metrics and a log
	// line. Default: no tracing or metrics, logging to Logger.
	Middleware *observe.Middleware

	// Logger receives retry, failure and invalidation events.
	// Default: no-op.
	Logger observe.Logger
}

// Governor fronts an upstream API with a TTL cache, request coalescing,
// rate limiting and retries.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - Context: a caller's cancellation ends its wait, not the upstream call.
//   - Errors: failures are never cached; waiters of one call share its error.
type Governor struct {
	conf    Config
	cache   *cache.MemoryCache
	policy  cache.Policy
	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
	timeout *resilience.Timeout
	janitor *cache.Janitor
	mw      *observe.Middleware
	metrics observe.Metrics
	log     observe.Logger

	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
	seq     uint64
	closed  atomic.Bool
	wg      sync.WaitGroup

	done   context.Context
	cancel context.CancelFunc

	upstreamCalls atomic.Int64
	retries       atomic.Int64
	failures      atomic.Int64
}

// flight is the governor's record of one running upstream call.
type flight struct {
	// id names the call in the singleflight group. Every flight gets its
	// own, so a forgotten call can never be joined again.
	id string

	// forgotten is set when the key was invalidated while the call ran.
	forgotten bool
}

// New creates a governor with its own cache and rate limiter and starts
// the expired-entry sweep.
func New(conf Config) (*Governor, error) {
	if conf.Policy.TTLs == nil && conf.Policy.DefaultTTL == 0 {
		conf.Policy = cache.DefaultPolicy()
	}
	if err := conf.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("governor: policy: %w", err)
	}
	setter.SetDefault(&conf.AttemptTimeout, 30*time.Second)
	setter.SetDefault(&conf.CleanupInterval, 5*time.Minute)
	if conf.Logger == nil {
		conf.Logger = observe.NopLogger()
	}
	if conf.Middleware == nil {
		conf.Middleware = observe.NewMiddleware(observe.NopTracer(), observe.NopMetrics(), conf.Logger)
	}
	conf.Retry = resilience.NewRetry(conf.Retry).Config()

	g := &Governor{
		conf:    conf,
		policy:  conf.Policy,
		limiter: resilience.NewRateLimiter(conf.Limiter),
		timeout: resilience.NewTimeout(resilience.TimeoutConfig{
			Timeout:       conf.AttemptTimeout,
			WaitForReturn: true,
		}),
		log:     conf.Logger,
		flights: make(map[string]*flight),
	}
	g.mw = conf.Middleware.WithClassifier(func(err error) string {
		return resilience.KindOf(err).String()
	})
	g.metrics = g.mw.Metrics()
	g.done, g.cancel = context.WithCancel(context.Background())

	cacheConf := conf.Cache
	if cacheConf.Logger == nil {
		cacheConf.Logger = g.log
	}
	onRemove := cacheConf.OnRemove
	cacheConf.OnRemove = func(key string, reason cache.RemovalReason) {
		g.metrics.RecordRemoval(context.Background(), reason.String())
		if onRemove != nil {
			onRemove(key, reason)
		}
	}
	g.cache = cache.NewMemoryCache(cacheConf)

	if !conf.DisableBreaker {
		breakerConf := conf.Breaker
		onChange := breakerConf.OnStateChange
		breakerConf.OnStateChange = func(from, to resilience.State) {
			g.log.Warn(context.Background(), "upstream circuit state changed",
				observe.F("from", from.String()),
				observe.F("to", to.String()),
			)
			if onChange != nil {
				onChange(from, to)
			}
		}
		g.breaker = resilience.NewCircuitBreaker(breakerConf)
	}

	if conf.CleanupInterval > 0 {
		g.janitor = cache.NewJanitor(g, cache.JanitorConfig{
			Interval: conf.CleanupInterval,
			Logger:   g.log,
		})
		g.janitor.Start()
	}

	return g, nil
}

// Fetch returns the value cached under key, or obtains it through producer.
//
// Concurrent misses for the same key share one producer call. The result
// is stored with the TTL of category; an unknown category fails before any
// upstream call. Transient producer failures are retried, permanent ones are
// returned unchanged, and neither is cached.
func (g *Governor) Fetch(ctx context.Context, key string, category cache.Category, producer Producer) (any, error) {
	if producer == nil {
		return nil, ErrNilProducer
	}
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}
	ttl, err := g.policy.TTL(category)
	if err != nil {
		return nil, err
	}
	if g.closed.Load() {
		return nil, ErrClosed
	}

	v, ok := g.cache.Get(ctx, key)
	g.metrics.RecordLookup(ctx, string(category), ok)
	if ok {
		return v, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := g.join(ctx, key, category, ttl, producer)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchAs is Fetch for producers of a concrete type.
func FetchAs[T any](ctx context.Context, g *Governor, key string, category cache.Category, producer func(context.Context) (T, error)) (T, error) {
	var zero T

	v, err := g.Fetch(ctx, key, category, func(ctx context.Context) (any, error) {
		return producer(ctx)
	})
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", ErrUnexpectedType, key, v)
	}
	return t, nil
}

// join attaches the caller to the running flight for key or starts a new
// one. The flight is registered and handed to the group under g.mu, so an
// invalidation sees either no call or a call it can forget.
func (g *Governor) join(ctx context.Context, key string, category cache.Category, ttl time.Duration, producer Producer) (<-chan singleflight.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed.Load() {
		return nil, ErrClosed
	}
	f, ok := g.flights[key]
	if !ok {
		g.seq++
		f = &flight{id: key + "#" + strconv.FormatUint(g.seq, 10)}
		g.flights[key] = f
		g.wg.Add(1)
	}
	return g.group.DoChan(f.id, func() (any, error) {
		return g.lead(ctx, key, f, category, ttl, producer)
	}), nil
}

// lead runs the upstream call for key on behalf of every waiter.
func (g *Governor) lead(ctx context.Context, key string, f *flight, category cache.Category, ttl time.Duration, producer Producer) (any, error) {
	defer g.end(key, f)

	// Another flight may have filled the entry between our miss and now.
	if v, ok := g.cache.Peek(key); ok {
		return v, nil
	}

	// The call outlives the caller that started it; only Close stops it.
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(g.done, cancel)
	defer stop()

	meta := observe.FetchMeta{
		Key:      key,
		Category: string(category),
		Shard:    shardOf(key),
	}

	// The middleware writes the one log line for a failed call.
	v, err := g.mw.Wrap(meta, g.pipeline(meta, producer))(pctx)
	if err != nil {
		g.failures.Add(1)
		return nil, err
	}

	g.store(pctx, key, f, v, ttl)
	return v, nil
}

// pipeline builds breaker, retry, rate limit and timeout around producer.
func (g *Governor) pipeline(meta observe.FetchMeta, producer Producer) observe.FetchFunc {
	return func(ctx context.Context) (any, error) {
		retryConf := g.conf.Retry
		onRetry := retryConf.OnRetry
		retryConf.OnRetry = func(attempt int, err error, delay time.Duration) {
			g.retries.Add(1)
			g.metrics.RecordRetry(ctx, meta)
			g.log.Warn(ctx, "retrying upstream call",
				observe.F("key", meta.Key),
				observe.F("attempt", attempt),
				observe.F("delay_ms", delay.Milliseconds()),
				observe.F("error", err),
			)
			if onRetry != nil {
				onRetry(attempt, err, delay)
			}
		}

		opts := []resilience.ExecutorOption{
			resilience.WithRetry(resilience.NewRetry(retryConf)),
			resilience.WithRateLimiter(g.limiter),
			resilience.WithTimeoutConfig(g.timeout),
		}
		if g.breaker != nil {
			opts = append(opts, resilience.WithCircuitBreaker(g.breaker))
		}

		// Attempts run one at a time: the timeout waits for an overrunning
		// producer before the next attempt starts.
		var out any
		err := resilience.NewExecutor(opts...).Execute(ctx, func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = resilience.Permanent(fmt.Errorf("%w: %v", ErrProducerPanic, r))
				}
			}()

			g.upstreamCalls.Add(1)
			v, err := producer(ctx)
			if err != nil {
				return err
			}
			// A value arriving after the attempt deadline belongs to a
			// timed out attempt.
			if err := ctx.Err(); err != nil {
				return err
			}
			out = v
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (g *Governor) end(key string, f *flight) {
	g.mu.Lock()
	if g.flights[key] == f {
		delete(g.flights, key)
	}
	g.mu.Unlock()
	g.wg.Done()
}

// store caches v unless key was invalidated while the call was running.
func (g *Governor) store(ctx context.Context, key string, f *flight, v any, ttl time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if f.forgotten {
		g.log.Debug(ctx, "discarding result of invalidated fetch", observe.F("key", key))
		return
	}
	if err := g.cache.Set(ctx, key, v, ttl); err != nil {
		g.log.Warn(ctx, "caching upstream result failed",
			observe.F("key", key),
			observe.F("error", err),
		)
	}
}

// forgetLocked detaches the running call for key so the next Fetch starts
// a fresh one. Callers hold g.mu.
func (g *Governor) forgetLocked(key string) {
	if f, ok := g.flights[key]; ok {
		f.forgotten = true
		delete(g.flights, key)
	}
}

// Invalidate removes key from the cache and forgets any running call for it.
// Waiters of a forgotten call still get its result, which is not cached.
func (g *Governor) Invalidate(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.cache.Delete(ctx, key); err != nil {
		return err
	}
	g.forgetLocked(key)

	g.log.Debug(ctx, "invalidated key", observe.F("key", key))
	return nil
}

// InvalidatePrefix removes every key starting with prefix and forgets the
// matching running calls. It returns the number of cache entries removed.
func (g *Governor) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.cache.DeletePrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for key := range g.flights {
		if strings.HasPrefix(key, prefix) {
			g.forgetLocked(key)
		}
	}

	g.log.Debug(ctx, "invalidated prefix",
		observe.F("prefix", prefix),
		observe.F("removed", n),
	)
	return n, nil
}

// Clear empties the cache and forgets every running call. It returns the
// number of entries dropped.
func (g *Governor) Clear(ctx context.Context) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.cache.Len()
	g.cache.Clear(ctx)
	for key := range g.flights {
		g.forgetLocked(key)
	}

	g.log.Info(ctx, "cache cleared", observe.F("removed", n))
	return n
}

// PurgeExpired drops expired cache entries and returns how many were removed.
func (g *Governor) PurgeExpired(ctx context.Context) int {
	return g.cache.PurgeExpired(ctx)
}

// InFlight returns the number of keys with a running upstream call that a
// new Fetch would join. Calls forgotten by an invalidation are not counted.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}

// Cache returns the governor's cache.
func (g *Governor) Cache() *cache.MemoryCache { return g.cache }

// Limiter returns the rate limiter shared by all upstream calls.
func (g *Governor) Limiter() *resilience.RateLimiter { return g.limiter }

// Policy returns the TTL policy in use.
func (g *Governor) Policy() cache.Policy { return g.policy }

// Close stops the sweep, cancels running upstream calls and waits for them
// to return or for ctx to end. Fetch fails with ErrClosed afterwards.
func (g *Governor) Close(ctx context.Context) error {
	g.mu.Lock()
	already := g.closed.Swap(true)
	g.mu.Unlock()
	if already {
		return nil
	}

	g.cancel()
	if g.janitor != nil {
		g.janitor.Stop()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shardOf returns the second segment of a "category:shard:..." key.
func shardOf(key string) string {
	parts := strings.SplitN(key, cache.KeySeparator, 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
