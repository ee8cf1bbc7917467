// Package api assembles the HTTP surface of the scan orchestrator.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/internal/api/health"
	"github.com/ahrav/scan-orchestrator/internal/api/mid"
	"github.com/ahrav/scan-orchestrator/internal/api/scanning"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
	"github.com/ahrav/scan-orchestrator/pkg/common/otel"
)

// Config contains the dependencies of the API server.
type Config struct {
	Build       string
	Log         *logger.Logger
	Tracer      trace.Tracer
	ScanService scanning.Service
	// EventService serves the runtime event endpoints when set.
	EventService scanning.EventService
	DB           health.Pinger
	Metrics      *mid.HTTPMetrics

	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the public API.
type Server struct {
	cfg    Config
	logger *logger.Logger
	router *chi.Mux
}

// NewServer builds the router with its middleware stack and routes.
func NewServer(cfg Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(cfg.Tracer))
	if cfg.Metrics != nil {
		r.Use(mid.Metrics(cfg.Metrics))
	}
	r.Use(mid.Logger(cfg.Log))
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		health.Routes(r, health.Config{Build: cfg.Build, Log: cfg.Log, DB: cfg.DB})
		scanning.Routes(r, scanning.Config{
			Log:          cfg.Log,
			ScanService:  cfg.ScanService,
			EventService: cfg.EventService,
		})
	})

	return &Server{cfg: cfg, logger: cfg.Log, router: r}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down within the configured
// timeout.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(s.logger, logger.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "startup", "status", "api router started", "host", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}
