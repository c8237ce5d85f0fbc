// Package health reports whether the bot's cache and upstream access are
// usable.
//
// A [Checker] reports a [Status]: healthy, degraded or unhealthy. The
// [Aggregator] runs a set of checkers under one timeout, logs status
// transitions, and backs the HTTP probes:
//
//	agg := health.NewAggregator(health.AggregatorConfig{Logger: logger})
//	agg.Register(health.NewMemoryChecker(health.MemoryCheckerConfig{}))
//	agg.Register(governor.NewChecker(g))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg) // /healthz, /readyz, /health
//
// Degraded answers 200 on the probes, because cached data can still be
// served while the upstream asks us to slow down.
package health
