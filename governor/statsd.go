package governor

import (
	"context"
	"sync"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"
	"github.com/mailgun/holster/v4/syncutil"
	"github.com/smira/go-statsd"

	"github.com/hawkbot/hawkcache/observe"
)

// StatsdClient is the part of *statsd.Client the reporter uses.
type StatsdClient interface {
	Gauge(string, int64, ...statsd.Tag)
	Incr(string, int64, ...statsd.Tag)
	Close() error
}

// NullClient discards everything.
type NullClient struct{}

func (NullClient) Gauge(string, int64, ...statsd.Tag) {}
func (NullClient) Incr(string, int64, ...statsd.Tag)  {}
func (NullClient) Close() error                       { return nil }

// StatsSource is anything with governor counters; *Governor satisfies it.
type StatsSource interface {
	Stats() Stats
}

type StatsdConfig struct {
	// Period between reports.
	// Default: 10 seconds
	Period time.Duration

	Logger observe.Logger
}

// StatsdReporter pushes governor counters to statsd. Sizes and token
// counts are sent as gauges; monotonic counters are sent as the increase
// since the previous report.
type StatsdReporter struct {
	client StatsdClient
	source StatsSource
	conf   StatsdConfig

	mu      sync.Mutex
	last    Stats
	running bool
	wg      syncutil.WaitGroup
}

func NewStatsdReporter(client StatsdClient, source StatsSource, conf StatsdConfig) *StatsdReporter {
	setter.SetDefault(&conf.Period, 10*time.Second)
	setter.SetDefault(&conf.Logger, observe.NopLogger())
	return &StatsdReporter{client: client, source: source, conf: conf}
}

// Start reports every Period until Close.
func (r *StatsdReporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	r.wg.Until(func(done chan struct{}) bool {
		select {
		case <-clock.After(r.conf.Period):
			r.Report()
			return true
		case <-done:
			return false
		}
	})
}

// Report sends one snapshot.
func (r *StatsdReporter) Report() {
	s := r.source.Stats()

	r.mu.Lock()
	prev := r.last
	r.last = s
	r.mu.Unlock()

	r.client.Gauge("cache.size", int64(s.Size))
	r.client.Gauge("governor.in_flight", int64(s.InFlight))
	r.client.Gauge("ratelimit.tokens", int64(s.RateLimitTokens))
	var open int64
	if s.CircuitState == "open" {
		open = 1
	}
	r.client.Gauge("circuit.open", open)

	r.incr("cache.hit", s.Hits, prev.Hits)
	r.incr("cache.miss", s.Misses, prev.Misses)
	r.incr("cache.eviction", s.Evictions, prev.Evictions)
	r.incr("cache.expired", s.Expirations, prev.Expirations)
	r.incr("upstream.calls", s.UpstreamCalls, prev.UpstreamCalls)
	r.incr("upstream.retries", s.Retries, prev.Retries)
	r.incr("upstream.failures", s.Failures, prev.Failures)
}

func (r *StatsdReporter) incr(name string, now, prev int64) {
	if d := now - prev; d > 0 {
		r.client.Incr(name, d)
	}
}

// Close stops the loop, sends a final report and closes the client.
func (r *StatsdReporter) Close() error {
	r.mu.Lock()
	running := r.running
	r.running = false
	r.mu.Unlock()
	if running {
		r.wg.Stop()
	}

	r.Report()
	if err := r.client.Close(); err != nil {
		r.conf.Logger.Warn(context.Background(), "statsd client close failed", observe.F("error", err))
		return err
	}
	return nil
}
