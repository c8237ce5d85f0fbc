// Package observe provides logging, metrics and tracing for cache lookups
// and upstream PUBG API calls.
//
// Logging is backed by logrus; metrics and traces by OpenTelemetry with
// exporters chosen by name (otlp, stdout, prometheus, none). The package
// performs no I/O of its own beyond exporter setup.
package observe
