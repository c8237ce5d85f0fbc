package observe

import (
	"context"
	"testing"
	"time"
)

func TestObserverContract_Noops(t *testing.T) {
	cfg := Config{
		ServiceName: "observe-test",
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "none",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Exporter: "none",
		},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}

	if obs.Tracer() == nil {
		t.Fatalf("expected non-nil tracer")
	}
	if obs.Meter() == nil {
		t.Fatalf("expected non-nil meter")
	}
	if obs.Logger() == nil {
		t.Fatalf("expected non-nil logger")
	}
}

func TestLoggerContract_With(t *testing.T) {
	for _, logger := range []Logger{NopLogger(), NewLoggerWithWriter("error", nopWriter{})} {
		if logger.With(F("k", "v")) == nil {
			t.Fatalf("With should return non-nil logger")
		}
	}
}

func TestMetricsContract_NoPanic(t *testing.T) {
	m := NopMetrics()
	ctx := context.Background()
	m.RecordLookup(ctx, "player", true)
	m.RecordUpstream(ctx, FetchMeta{Category: "player"}, 10*time.Millisecond, "")
	m.RecordRetry(ctx, FetchMeta{Category: "player"})
	m.RecordRemoval(ctx, "expired")
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
