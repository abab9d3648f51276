package telemetry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/apphub_installer/internal/logctx"
)

// quietRoutes are polled by probes and scrapers and only logged at DEBUG.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// HTTPLogging logs every request once it completes. Failed API calls are
// logged at WARN (4xx) or ERROR (5xx); an event stream is logged when the
// client disconnects.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapResponseWriter(w)

		next.ServeHTTP(rw, r)

		ctx := r.Context()
		logger := logctx.LoggerFromContext(ctx)
		route := RoutePattern(r)

		attrs := []any{
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		if rw.bytesWritten > 0 {
			attrs = append(attrs, "size", humanize.Bytes(uint64(rw.bytesWritten)))
		}

		msg := "http request completed"
		level := slog.LevelInfo

		switch {
		case rw.status == http.StatusSwitchingProtocols:
			msg = "event stream closed"
		case rw.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case rw.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case quietRoutes[route]:
			level = slog.LevelDebug
		}

		logger.Log(ctx, level, msg, attrs...)
	})
}

// RoutePattern returns the matched chi route (e.g. /api/v1/apps/{id}/install)
// so app ids do not end up in metric labels. It must be called after the
// router served the request.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	return "unmatched"
}
