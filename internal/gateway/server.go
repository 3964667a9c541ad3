package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hms-platform/hms/health"
	"github.com/hms-platform/hms/internal/platform/db"
	"github.com/hms-platform/hms/internal/platform/middleware"
	"github.com/hms-platform/hms/messaging"
)

const shutdownTimeout = 10 * time.Second

// RouteRegistrar mounts a service's routes under /api.
type RouteRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

// Deps are the collaborators of the HTTP server. Broker, Health, Gatherer and DB
// are optional.
type Deps struct {
	Logger   zerolog.Logger
	Broker   messaging.Broker
	Health   *health.Registry
	Gatherer prometheus.Gatherer
	DB       db.Pinger
	Routes   []RouteRegistrar
}

type Server struct {
	echo   *echo.Echo
	logger zerolog.Logger
}

func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(deps.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(deps.Logger))

	if deps.Health != nil {
		e.GET("/health", deps.Health.Handler())
	}
	if deps.DB != nil {
		e.GET("/health/db", db.HealthHandler(deps.DB))
	}
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	for _, r := range deps.Routes {
		r.RegisterRoutes(api)
	}
	if deps.Broker != nil {
		NewDiagnosticsHandler(deps.Broker).RegisterRoutes(api)
	}

	return &Server{echo: e, logger: deps.Logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting server")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("server stopped")
	return nil
}
