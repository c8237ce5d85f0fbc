package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mailgun/holster/v4/setter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hawkbot/hawkcache/cache"
	"github.com/hawkbot/hawkcache/governor"
	"github.com/hawkbot/hawkcache/observe"
	"github.com/hawkbot/hawkcache/secret"
)

type ServerConfig struct {
	HTTPListenAddress string
	ShutdownTimeout   time.Duration

	LogLevel         string
	LogFormat        string
	TracingExporter  string
	TracingSamplePct float64
	MetricsExporter  string

	// Optional statsd push of governor counters, e.g. "127.0.0.1:8125".
	StatsdAddress string
	StatsdPrefix  string
	StatsdPeriod  time.Duration

	// SecretsDir confines secretref:file: references.
	SecretsDir string

	PubgAPIKey       string
	PubgBaseURL      string
	BatchConcurrency int
	RecentMatches    int

	// Configure the cache, limiter and retry policy in front of the API
	Governor governor.Config

	// Dashboard credentials. Endpoints stay locked when all are empty.
	JWTSecret      string
	OperatorAPIKey string
	ViewerAPIKey   string
}

func confFromEnv(ctx context.Context, args []string) (ServerConfig, error) {
	var configFile string
	var debug bool
	var conf ServerConfig

	flags := flag.NewFlagSet("hawkcache", flag.ContinueOnError)
	flags.StringVar(&configFile, "config", "", "environment config file")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		return conf, err
	}

	if configFile != "" {
		log.Infof("Loading env config: %s", configFile)
		if err := fromEnvFile(configFile); err != nil {
			return conf, err
		}
	}

	var env envParser

	// Main config
	setter.SetDefault(&conf.HTTPListenAddress, os.Getenv("HAWK_HTTP_ADDRESS"), "0.0.0.0:8080")
	setter.SetDefault(&conf.ShutdownTimeout, env.getEnvDuration("HAWK_SHUTDOWN_TIMEOUT"), 15*time.Second)
	setter.SetDefault(&conf.LogLevel, os.Getenv("HAWK_LOG_LEVEL"), "info")
	setter.SetDefault(&conf.LogFormat, os.Getenv("HAWK_LOG_FORMAT"), "json")
	setter.SetDefault(&conf.TracingExporter, os.Getenv("HAWK_TRACING_EXPORTER"), "none")
	setter.SetDefault(&conf.TracingSamplePct, env.getEnvFloat("HAWK_TRACING_SAMPLE_PCT"), 1.0)
	setter.SetDefault(&conf.MetricsExporter, os.Getenv("HAWK_METRICS_EXPORTER"), "prometheus")
	setter.SetDefault(&conf.SecretsDir, os.Getenv("HAWK_SECRETS_DIR"))
	setter.SetDefault(&conf.StatsdAddress, os.Getenv("HAWK_STATSD_ADDRESS"))
	setter.SetDefault(&conf.StatsdPrefix, os.Getenv("HAWK_STATSD_PREFIX"), defaultStatsdPrefix())
	setter.SetDefault(&conf.StatsdPeriod, env.getEnvDuration("HAWK_STATSD_PERIOD"), 10*time.Second)
	if debug {
		conf.LogLevel = "debug"
	}

	// PUBG API
	setter.SetDefault(&conf.PubgAPIKey, os.Getenv("HAWK_PUBG_API_KEY"))
	setter.SetDefault(&conf.PubgBaseURL, os.Getenv("HAWK_PUBG_BASE_URL"))
	setter.SetDefault(&conf.BatchConcurrency, env.getEnvInteger("HAWK_BATCH_CONCURRENCY"), 3)
	setter.SetDefault(&conf.RecentMatches, env.getEnvInteger("HAWK_RECENT_MATCHES"), 5)

	// Governor
	setter.SetDefault(&conf.Governor.Cache.MaxSize, env.getEnvInteger("HAWK_CACHE_SIZE"), 1000)
	policy := cache.DefaultPolicy()
	if path := os.Getenv("HAWK_TTL_FILE"); path != "" {
		var err error
		if policy, err = cache.LoadPolicyFile(path, policy); err != nil {
			env.errs = append(env.errs, fmt.Errorf("HAWK_TTL_FILE: %w", err))
		}
	}
	for _, c := range policy.Categories() {
		if ttl := env.getEnvDuration("HAWK_TTL_" + strings.ToUpper(string(c))); ttl != 0 {
			policy = policy.WithTTL(c, ttl)
		}
	}
	conf.Governor.Policy = policy
	setter.SetDefault(&conf.Governor.Limiter.Capacity, env.getEnvInteger("HAWK_RATE_LIMIT"), 8)
	setter.SetDefault(&conf.Governor.Limiter.Window, env.getEnvDuration("HAWK_RATE_WINDOW"), 60*time.Second)
	setter.SetDefault(&conf.Governor.Retry.MaxAttempts, env.getEnvInteger("HAWK_RETRY_ATTEMPTS"), 3)
	setter.SetDefault(&conf.Governor.Retry.InitialDelay, env.getEnvDuration("HAWK_RETRY_DELAY"), time.Second)
	setter.SetDefault(&conf.Governor.Retry.MaxDelay, env.getEnvDuration("HAWK_RETRY_MAX_DELAY"), 30*time.Second)
	conf.Governor.Retry.Jitter = env.getEnvBool("HAWK_RETRY_JITTER", true)
	conf.Governor.DisableBreaker = env.getEnvBool("HAWK_DISABLE_BREAKER", false)
	setter.SetDefault(&conf.Governor.AttemptTimeout, env.getEnvDuration("HAWK_ATTEMPT_TIMEOUT"), 30*time.Second)
	setter.SetDefault(&conf.Governor.CleanupInterval, env.getEnvDuration("HAWK_CLEANUP_INTERVAL"), 5*time.Minute)

	// Dashboard
	setter.SetDefault(&conf.JWTSecret, os.Getenv("HAWK_JWT_SECRET"))
	setter.SetDefault(&conf.OperatorAPIKey, os.Getenv("HAWK_OPERATOR_API_KEY"))
	setter.SetDefault(&conf.ViewerAPIKey, os.Getenv("HAWK_VIEWER_API_KEY"))

	if err := errors.Join(env.err(), conf.validate()); err != nil {
		return conf, err
	}

	if err := resolveSecrets(ctx, &conf); err != nil {
		return conf, err
	}
	return conf, nil
}

// defaultStatsdPrefix is "hawkcache.<hostname>." with dots in the host
// name replaced so they do not split the metric path.
func defaultStatsdPrefix() string {
	host, _ := os.Hostname()
	if host == "" {
		return "hawkcache."
	}
	return "hawkcache." + strings.ReplaceAll(host, ".", "_") + "."
}

func (c ServerConfig) validate() error {
	var errs []error
	if c.Governor.Cache.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("HAWK_CACHE_SIZE must not be negative; got %d", c.Governor.Cache.MaxSize))
	}
	if c.Governor.Limiter.Capacity < 0 {
		errs = append(errs, fmt.Errorf("HAWK_RATE_LIMIT must not be negative; got %d", c.Governor.Limiter.Capacity))
	}
	if c.Governor.Limiter.Window < 0 {
		errs = append(errs, fmt.Errorf("HAWK_RATE_WINDOW must not be negative; got %s", c.Governor.Limiter.Window))
	}
	if c.BatchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("HAWK_BATCH_CONCURRENCY must not be negative; got %d", c.BatchConcurrency))
	}
	if err := c.Governor.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("while validating TTLs: %w", err))
	}
	return errors.Join(errs...)
}

// observeConfig builds the observer config. Prometheus metrics are
// registered with reg so /metrics serves them next to the Go collectors.
func (c ServerConfig) observeConfig(reg prometheus.Registerer) observe.Config {
	return observe.Config{
		ServiceName: "hawkcache",
		Version:     Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.TracingExporter != "none",
			Exporter:  c.TracingExporter,
			SamplePct: c.TracingSamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:    c.MetricsExporter != "none",
			Exporter:   c.MetricsExporter,
			Registerer: reg,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.LogLevel,
			Format:  c.LogFormat,
		},
	}
}

// resolveSecrets expands ${VAR} and secretref: values in the credential
// settings.
func resolveSecrets(ctx context.Context, conf *ServerConfig) (err error) {
	res, err := secret.NewDefaultRegistry().NewResolver(true, map[string]map[string]any{
		"file": {"dir": conf.SecretsDir},
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, res.Close())
	}()

	secrets := []struct {
		name  string
		value *string
	}{
		{"HAWK_PUBG_API_KEY", &conf.PubgAPIKey},
		{"HAWK_JWT_SECRET", &conf.JWTSecret},
		{"HAWK_OPERATOR_API_KEY", &conf.OperatorAPIKey},
		{"HAWK_VIEWER_API_KEY", &conf.ViewerAPIKey},
	}

	var errs []error
	for _, s := range secrets {
		if *s.value == "" {
			continue
		}
		v, rerr := res.ResolveValue(ctx, *s.value)
		if rerr != nil {
			errs = append(errs, fmt.Errorf("while resolving %s: %w", s.name, rerr))
			continue
		}
		*s.value = v
	}
	return errors.Join(errs...)
}

// envParser reads typed environment values and keeps every parse error.
type envParser struct {
	errs []error
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}

func (p *envParser) getEnvInteger(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("while parsing '%s' as an integer: %w", name, err))
		return 0
	}
	return int(i)
}

func (p *envParser) getEnvFloat(name string) float64 {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("while parsing '%s' as a float: %w", name, err))
		return 0
	}
	return f
}

func (p *envParser) getEnvDuration(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("while parsing '%s' as a duration: %w", name, err))
		return 0
	}
	return d
}

func (p *envParser) getEnvBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("while parsing '%s' as a bool: %w", name, err))
		return def
	}
	return b
}

// fromEnvFile loads KEY=value lines from configFile into the environment.
// Values in the file override the process environment.
func fromEnvFile(configFile string) error {
	contents, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("while opening config file: %w", err)
	}

	for i, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimRight(line, "\r")
		// Skip comments, empty lines or lines with leading whitespace
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, " ") ||
			strings.HasPrefix(line, "\t") || len(line) == 0 {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed key=value on line '%d'", i+1)
		}

		key = strings.TrimSpace(key)
		if err := os.Setenv(key, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("while setting environ for '%s': %w", key, err)
		}
	}
	return nil
}
