package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache and upstream metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records a cache lookup for category.
	RecordLookup(ctx context.Context, category string, hit bool)

	// RecordUpstream records one upstream call. errKind is empty on success.
	RecordUpstream(ctx context.Context, meta FetchMeta, duration time.Duration, errKind string)

	// RecordRetry records a retry scheduled after a failed attempt.
	RecordRetry(ctx context.Context, meta FetchMeta)

	// RecordRemoval records an entry leaving the cache for reason.
	RecordRemoval(ctx context.Context, reason string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	lookups      metric.Int64Counter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	retryCount   metric.Int64Counter
	removals     metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with the given meter. If
// inFlight is non-nil it is observed as the upstream in-flight gauge.
func NewMetrics(meter metric.Meter, inFlight func() int64) (Metrics, error) {
	lookups, err := meter.Int64Counter(
		"hawk.cache.lookups",
		metric.WithDescription("Cache lookups by category and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	totalCount, err := meter.Int64Counter(
		"hawk.upstream.calls",
		metric.WithDescription("Total number of upstream calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"hawk.upstream.errors",
		metric.WithDescription("Total number of failed upstream calls by error kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"hawk.upstream.retries",
		metric.WithDescription("Retries scheduled after transient upstream failures"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	removals, err := meter.Int64Counter(
		"hawk.cache.removals",
		metric.WithDescription("Entries removed from the cache by reason"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"hawk.upstream.duration_ms",
		metric.WithDescription("Upstream call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	if inFlight != nil {
		_, err = meter.Int64ObservableGauge(
			"hawk.upstream.inflight",
			metric.WithDescription("Upstream calls currently in flight"),
			metric.WithUnit("{call}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(inFlight())
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	return &metricsImpl{
		meter:        meter,
		lookups:      lookups,
		totalCount:   totalCount,
		errorCount:   errorCount,
		retryCount:   retryCount,
		removals:     removals,
		durationHist: durationHist,
	}, nil
}

func (m *metricsImpl) RecordLookup(ctx context.Context, category string, hit bool) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fetch.category", category),
		attribute.Bool("cache.hit", hit),
	))
}

// RecordUpstream records metrics for one upstream call.
func (m *metricsImpl) RecordUpstream(ctx context.Context, meta FetchMeta, duration time.Duration, errKind string) {
	attrs := []attribute.KeyValue{
		attribute.String("fetch.category", meta.Category),
	}
	if meta.Shard != "" {
		attrs = append(attrs, attribute.String("fetch.shard", meta.Shard))
	}
	opt := metric.WithAttributes(attrs...)

	// Always increment total counter
	m.totalCount.Add(ctx, 1, opt)

	if errKind != "" {
		m.errorCount.Add(ctx, 1, metric.WithAttributes(
			append(attrs, attribute.String("error.kind", errKind))...,
		))
	}

	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta FetchMeta) {
	m.retryCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fetch.category", meta.Category),
	))
}

func (m *metricsImpl) RecordRemoval(ctx context.Context, reason string) {
	m.removals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (noopMetrics) RecordLookup(ctx context.Context, category string, hit bool) {}

func (noopMetrics) RecordUpstream(ctx context.Context, meta FetchMeta, duration time.Duration, errKind string) {
}

func (noopMetrics) RecordRetry(ctx context.Context, meta FetchMeta) {}

func (noopMetrics) RecordRemoval(ctx context.Context, reason string) {}
