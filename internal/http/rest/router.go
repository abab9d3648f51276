package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/apphub_installer/internal/telemetry"
)

// NewRouter mounts the API under /api/v1 next to /metrics and the event stream.
func NewRouter(apps *AppsHandler, hub *EventHub, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", tel.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", hub.HandleWebSocket)
		r.Mount("/", apps.Routes())
	})

	return r
}
