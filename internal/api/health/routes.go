// Package health binds the liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// DB is optional; without it readiness only reports the process is up.
	DB Pinger
}

// Routes binds all the health check endpoints onto r, which is mounted at /v1.
func Routes(r chi.Router, cfg Config) {
	r.Get("/health", health(cfg))
	r.Get("/readiness", readiness(cfg))
}

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build,omitempty"`
}

func health(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, healthResponse{Status: "ok", Build: cfg.Build})
	}
}

func readiness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()

			if err := cfg.DB.Ping(ctx); err != nil {
				cfg.Log.Warn(ctx, "readiness check failed", "error", err)
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, healthResponse{Status: "db not ready"})
				return
			}
		}
		render.JSON(w, r, healthResponse{Status: "ready"})
	}
}
