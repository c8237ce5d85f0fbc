package observe

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string
	Version     string
	Tracing     TracingConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled bool

	// Exporter is one of otlp, jaeger, stdout or none.
	Exporter string

	// SamplePct is the fraction of new traces recorded, 0.0 to 1.0.
	// Spans whose parent was sampled are always recorded.
	SamplePct float64
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled bool

	// Exporter is one of otlp, prometheus, stdout or none.
	Exporter string

	// Registerer receives the prometheus collector when Exporter is
	// "prometheus". Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool
	Level   string // debug|info|warn|error
	Format  string // json|text

	// Output defaults to os.Stderr.
	Output io.Writer
}

// Sampling bounds.
const (
	MinSamplePct = 0.0
	MaxSamplePct = 1.0
)

// Validate reports the first invalid setting. Disabled subsystems are not
// checked.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	if t := c.Tracing; t.Enabled {
		switch t.Exporter {
		case "otlp", "jaeger", "stdout", "none", "":
		default:
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, t.Exporter)
		}
		if t.SamplePct < MinSamplePct || t.SamplePct > MaxSamplePct {
			return fmt.Errorf("%w, got: %f", ErrInvalidSamplePct, t.SamplePct)
		}
	}

	if m := c.Metrics; m.Enabled {
		switch m.Exporter {
		case "otlp", "prometheus", "stdout", "none", "":
		default:
			return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, m.Exporter)
		}
	}

	if l := c.Logging; l.Enabled {
		switch l.Level {
		case "debug", "info", "warn", "error", "":
		default:
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
		}
		switch l.Format {
		case "json", "text", "":
		default:
			return fmt.Errorf("%w: %q", ErrInvalidLogFormat, l.Format)
		}
	}

	return nil
}
