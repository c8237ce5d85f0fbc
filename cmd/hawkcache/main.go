package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/smira/go-statsd"
	"golang.org/x/sync/errgroup"

	"github.com/hawkbot/hawkcache/auth"
	"github.com/hawkbot/hawkcache/governor"
	"github.com/hawkbot/hawkcache/health"
	"github.com/hawkbot/hawkcache/observe"
	"github.com/hawkbot/hawkcache/pubg"
)

var log = logrus.WithField("category", "hawkcache")
var Version = "dev-build"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "token" {
		checkErr(runToken(ctx, args[1:], os.Stdout), "while issuing dashboard token")
		return
	}
	checkErr(run(ctx, args), "while running hawkcache")
}

func run(ctx context.Context, args []string) error {
	conf, err := confFromEnv(ctx, args)
	if err != nil {
		return fmt.Errorf("while getting config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	obs, err := observe.NewObserver(ctx, conf.observeConfig(reg))
	if err != nil {
		return fmt.Errorf("while starting observability: %w", err)
	}
	logger := obs.Logger()

	// The in-flight gauge is registered before the governor exists.
	var current atomic.Pointer[governor.Governor]
	mw, err := observe.MiddlewareFromObserver(obs, func() int64 {
		if g := current.Load(); g != nil {
			return int64(g.InFlight())
		}
		return 0
	})
	if err != nil {
		return errors.Join(fmt.Errorf("while creating fetch middleware: %w", err), obs.Shutdown(ctx))
	}

	govConf := conf.Governor
	govConf.Middleware = mw
	govConf.Logger = logger
	gov, err := governor.New(govConf)
	if err != nil {
		return errors.Join(fmt.Errorf("while creating governor: %w", err), obs.Shutdown(ctx))
	}
	current.Store(gov)

	reporter := newStatsdReporter(conf, gov, logger)
	cleanup := func(ctx context.Context) error {
		return errors.Join(reporter.Close(), gov.Close(ctx), obs.Shutdown(ctx))
	}

	client, err := pubg.NewClient(pubg.ClientConfig{
		APIKey:  conf.PubgAPIKey,
		BaseURL: conf.PubgBaseURL,
	})
	if err != nil {
		return errors.Join(fmt.Errorf("while creating PUBG client: %w", err), cleanup(ctx))
	}
	svc := pubg.NewService(client, gov, pubg.ServiceConfig{
		BatchConcurrency: conf.BatchConcurrency,
		RecentMatches:    conf.RecentMatches,
		Logger:           logger,
	})

	agg := health.NewAggregator(health.AggregatorConfig{Logger: logger})
	agg.Register(governor.NewChecker(gov))
	agg.Register(health.NewMemoryChecker(health.MemoryCheckerConfig{}))

	authn := newAuthenticator(conf)
	if len(authn.Authenticators) == 0 {
		logger.Warn(ctx, "no dashboard credentials configured; protected endpoints will reject every request")
	}

	handler := newHandler(handlerConfig{
		Governor: gov,
		Service:  svc,
		Health:   agg,
		Auth:     auth.NewMiddleware(auth.MiddlewareConfig{Authenticator: authn, Logger: logger}),
		Gatherer: reg,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              conf.HTTPListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(ctx, "dashboard listening",
			observe.F("address", conf.HTTPListenAddress),
			observe.F("version", Version),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("while serving HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), cleanup(shutdownCtx))
	})
	return g.Wait()
}

// newStatsdReporter starts pushing governor counters when a statsd
// address is configured. Otherwise the reporter is idle and Close only
// closes the null client.
func newStatsdReporter(conf ServerConfig, gov *governor.Governor, logger observe.Logger) *governor.StatsdReporter {
	if conf.StatsdAddress == "" {
		return governor.NewStatsdReporter(governor.NullClient{}, gov, governor.StatsdConfig{})
	}

	client := statsd.NewClient(conf.StatsdAddress,
		statsd.FlushInterval(conf.StatsdPeriod),
		statsd.MetricPrefix(conf.StatsdPrefix),
		statsd.Logger(log))
	r := governor.NewStatsdReporter(client, gov, governor.StatsdConfig{Period: conf.StatsdPeriod, Logger: logger})
	r.Start()
	logger.Info(context.Background(), "reporting to statsd", observe.F("address", conf.StatsdAddress))
	return r
}

// newAuthenticator accepts the configured API keys and, when a secret is
// set, HS256 bearer tokens.
func newAuthenticator(conf ServerConfig) *auth.CompositeAuthenticator {
	store := auth.NewMemoryAPIKeyStore()
	if conf.OperatorAPIKey != "" {
		store.Add(auth.NewAPIKeyInfo("operator", conf.OperatorAPIKey, "operator", auth.RoleOperator))
	}
	if conf.ViewerAPIKey != "" {
		store.Add(auth.NewAPIKeyInfo("viewer", conf.ViewerAPIKey, "viewer", auth.RoleViewer))
	}

	var auths []auth.Authenticator
	if conf.OperatorAPIKey != "" || conf.ViewerAPIKey != "" {
		auths = append(auths, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{}, store))
	}
	if conf.JWTSecret != "" {
		auths = append(auths, auth.NewJWTAuthenticator(auth.JWTConfig{Secret: []byte(conf.JWTSecret)}))
	}
	return auth.NewCompositeAuthenticator(auths...)
}

// runToken prints a signed dashboard token:
//
//	hawkcache token -principal alice -role operator -ttl 24h
func runToken(ctx context.Context, args []string, out io.Writer) error {
	var configFile, principal, role string
	var ttl time.Duration

	flags := flag.NewFlagSet("hawkcache token", flag.ContinueOnError)
	flags.StringVar(&configFile, "config", "", "environment config file")
	flags.StringVar(&principal, "principal", "", "token subject")
	flags.StringVar(&role, "role", string(auth.RoleViewer), "viewer or operator")
	flags.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if principal == "" {
		return errors.New("-principal is required")
	}
	r := auth.Role(role)
	if r != auth.RoleViewer && r != auth.RoleOperator {
		return fmt.Errorf("unknown role %q; want %s or %s", role, auth.RoleViewer, auth.RoleOperator)
	}
	if ttl <= 0 {
		return fmt.Errorf("-ttl must be positive; got %s", ttl)
	}

	var confArgs []string
	if configFile != "" {
		confArgs = append(confArgs, "-config", configFile)
	}
	conf, err := confFromEnv(ctx, confArgs)
	if err != nil {
		return fmt.Errorf("while getting config: %w", err)
	}
	if conf.JWTSecret == "" {
		return errors.New("HAWK_JWT_SECRET is not set")
	}

	token, err := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: []byte(conf.JWTSecret)}).Issue(principal, ttl, r)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func checkErr(err error, msg string) {
	if err != nil {
		log.WithError(err).Error(msg)
		os.Exit(1)
	}
}
