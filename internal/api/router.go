package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func SetupRouter(apiHandler *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(apiHandler.logger))
	r.Use(middleware.Recoverer)

	r.Post("/process", apiHandler.HandleProcess)
	r.Get("/health", apiHandler.HandleHealth)

	r.Route("/history", func(r chi.Router) {
		r.Get("/", apiHandler.HandleHistory)
		r.Delete("/", apiHandler.HandleClearHistory)
		r.Get("/latest", apiHandler.HandleLatest)
		r.Get("/stats", apiHandler.HandleStatistics)
	})

	r.Get("/ws", apiHandler.HandleWebSocket)

	if apiHandler.metrics != nil {
		r.Method(http.MethodGet, "/metrics", apiHandler.metrics.Handler())
	}

	return r
}

// requestLogger writes one access log line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("remote_addr", r.RemoteAddr).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
