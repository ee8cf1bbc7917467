package mid

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
	"github.com/ahrav/scan-orchestrator/pkg/common/otel"
)

// Logger writes one record per completed request.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(ctx),
					"span_id", otel.GetSpanID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
