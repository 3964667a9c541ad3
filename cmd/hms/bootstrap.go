package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hms-platform/hms"
	"github.com/hms-platform/hms/health"
	"github.com/hms-platform/hms/internal/config"
	"github.com/hms-platform/hms/internal/gateway"
	"github.com/hms-platform/hms/internal/metrics"
	"github.com/hms-platform/hms/internal/platform/db"
	"github.com/hms-platform/hms/internal/reliability"
)

// app holds what every service command needs.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	slog     *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pool     *pgxpool.Pool
	client   *hms.Client
	health   *health.Registry
	requests bool
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", cfg.ServiceName).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func newSlog(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", cfg.ServiceName)
}

// bootstrap loads configuration and opens the database and broker connections.
// Services that send medical-history requests set requests so the client listens for
// the replies; the others must not compete for them.
func bootstrap(ctx context.Context, serviceName string, requests bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	if cfg.ServiceName == "hms" {
		cfg.ServiceName = serviceName
	}

	a := &app{cfg: cfg, logger: newLogger(cfg), slog: newSlog(cfg), requests: requests}

	a.registry, a.metrics, err = metrics.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a.logger.Info().Msg("connected to database")

	opts := clientOptions(cfg, a.slog, a.metrics)
	if requests {
		opts = append(opts, hms.WithResponseListener())
	}
	a.client = hms.NewClient(ctx, cfg.BrokerURL, opts...)
	a.logger.Info().Str("broker", a.client.Broker().Name()).Msg("messaging initialized")

	a.health = health.NewRegistry(0, a.slog)
	a.health.Register(
		health.NewDatabaseChecker(a.pool),
		health.NewGoroutineChecker(500, 1000),
	)
	if t := a.client.Transport(); t != nil {
		a.health.Register(health.NewRabbitMQChecker(t))
	} else {
		a.health.Register(health.NewRabbitMQChecker(nil))
	}
	return a, nil
}

func clientOptions(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) []hms.ClientOption {
	return []hms.ClientOption{
		hms.WithLogger(logger),
		hms.WithMetrics(m),
		hms.WithServiceName(cfg.ServiceName),
		hms.WithRequestTimeout(cfg.RPCTimeout),
		hms.WithHeartbeat(cfg.BrokerHeartbeat),
		hms.WithConnectionTimeout(cfg.BrokerConnectionTimeout),
		hms.WithRecovery(cfg.BrokerRecoveryInterval, cfg.BrokerRecoveryAttempts),
		hms.WithRetryInterval(cfg.ConsumerRetryInterval),
		hms.WithMaxRetryInterval(cfg.ConsumerRetryMaxInterval),
		hms.WithLivenessInterval(cfg.ConsumerLivenessInterval),
		hms.WithPrefetchCount(cfg.PrefetchCount),
		hms.WithCircuitBreaker(reliability.NewCircuitBreaker(
			reliability.WithName("broker-publish"),
			reliability.WithFailureThreshold(5),
			reliability.WithStateChange(func(name string, from, to reliability.State) {
				logger.Warn("Circuit breaker state changed", "name", name, "from", from, "to", to)
			}),
		)),
	}
}

// run serves HTTP and the broker consumers until ctx is done.
func (a *app) run(ctx context.Context, routes ...gateway.RouteRegistrar) error {
	deps := gateway.Deps{
		Logger:   a.logger,
		Health:   a.health,
		Gatherer: a.registry,
		DB:       a.pool,
		Routes:   routes,
	}
	if a.requests {
		deps.Broker = a.client.Broker()
	}
	server := gateway.NewServer(deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, ":"+strings.TrimPrefix(a.cfg.Port, ":"))
	})
	g.Go(func() error {
		return a.client.Run(ctx)
	})
	return g.Wait()
}

func (a *app) close() {
	if err := a.client.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing broker")
	}
	a.pool.Close()
}
