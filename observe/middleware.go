package observe

import (
	"context"
	"time"
)

// FetchFunc is the signature of an upstream call.
type FetchFunc func(ctx context.Context) (any, error)

// Middleware wraps upstream calls with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe FetchFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from wrapped function are recorded and propagated unchanged.
//   - Ownership: Result values are passed through without modification.
type Middleware struct {
	tracer   Tracer
	metrics  Metrics
	logger   Logger
	classify func(error) string
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:   tracer,
		metrics:  metrics,
		logger:   logger,
		classify: func(error) string { return "error" },
	}
}

// WithClassifier returns a copy of m that names the kind of a failed call
// with fn for the error counter and log line. m itself is unchanged.
func (m *Middleware) WithClassifier(fn func(error) string) *Middleware {
	c := *m
	if fn != nil {
		c.classify = fn
	}
	return &c
}

// Metrics returns the metrics recorder the middleware writes to.
func (m *Middleware) Metrics() Metrics {
	return m.metrics
}

// Wrap wraps a FetchFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(meta FetchMeta, fn FetchFunc) FetchFunc {
	return func(ctx context.Context) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := time.Now()
		result, err := fn(ctx)
		duration := time.Since(start)

		// End span (records error status if err != nil)
		m.tracer.EndSpan(span, err)

		var kind string
		if err != nil {
			kind = m.classify(err)
		}
		m.metrics.RecordUpstream(ctx, meta, duration, kind)

		fields := []Field{
			{Key: "key", Value: meta.Key},
			{Key: "category", Value: meta.Category},
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}

		if err != nil {
			fields = append(fields,
				Field{Key: "error", Value: err.Error()},
				Field{Key: "error_kind", Value: kind},
			)
			m.logger.Error(ctx, "upstream call failed", fields...)
		} else {
			m.logger.Debug(ctx, "upstream call completed", fields...)
		}

		return result, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// inFlight, if non-nil, feeds the in-flight gauge.
func MiddlewareFromObserver(obs Observer, inFlight func() int64) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter(), inFlight)
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// NopMiddleware returns a middleware that only calls through.
func NopMiddleware() *Middleware {
	return NewMiddleware(NopTracer(), NopMetrics(), NopLogger())
}
