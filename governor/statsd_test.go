package governor

import (
	"sync"
	"testing"
	"time"

	"github.com/smira/go-statsd"
)

type recordingClient struct {
	mu     sync.Mutex
	gauges map[string]int64
	incrs  map[string]int64
	closed bool
}

func newRecordingClient() *recordingClient {
	return &recordingClient{gauges: map[string]int64{}, incrs: map[string]int64{}}
}

func (c *recordingClient) Gauge(name string, v int64, _ ...statsd.Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = v
}

func (c *recordingClient) Incr(name string, v int64, _ ...statsd.Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incrs[name] += v
}

func (c *recordingClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingClient) incr(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incrs[name]
}

type fixedStats struct {
	mu sync.Mutex
	s  Stats
}

func (f *fixedStats) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fixedStats) set(s Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = s
}

func TestStatsdReporter_Report(t *testing.T) {
	client := newRecordingClient()
	src := &fixedStats{s: Stats{Hits: 3, Misses: 1, Size: 4, UpstreamCalls: 1, RateLimitTokens: 7.6, CircuitState: "closed"}}
	r := NewStatsdReporter(client, src, StatsdConfig{})

	r.Report()
	src.set(Stats{Hits: 5, Misses: 1, Size: 5, UpstreamCalls: 2, Retries: 2, CircuitState: "open"})
	r.Report()

	wantIncr := map[string]int64{
		"cache.hit":        5,
		"cache.miss":       1,
		"upstream.calls":   2,
		"upstream.retries": 2,
	}
	for name, want := range wantIncr {
		if got := client.incr(name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
	if got := client.incr("cache.eviction"); got != 0 {
		t.Errorf("cache.eviction = %d, want no increments", got)
	}
	if client.gauges["cache.size"] != 5 || client.gauges["circuit.open"] != 1 {
		t.Errorf("gauges = %v", client.gauges)
	}
}

func TestStatsdReporter_StartClose(t *testing.T) {
	client := newRecordingClient()
	src := &fixedStats{s: Stats{Hits: 1}}
	r := NewStatsdReporter(client, src, StatsdConfig{Period: time.Millisecond})
	r.Start()

	deadline := time.Now().Add(time.Second)
	for client.incr("cache.hit") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if client.incr("cache.hit") != 1 {
		t.Fatalf("cache.hit = %d, want 1 after the first tick", client.incr("cache.hit"))
	}

	src.set(Stats{Hits: 4})
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.incr("cache.hit") != 4 || !client.closed {
		t.Errorf("after Close: cache.hit = %d, closed = %v", client.incr("cache.hit"), client.closed)
	}
}
