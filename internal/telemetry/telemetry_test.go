package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.RecordInstall("installed")
		tel.RecordDownload("success", 10, time.Second)
		tel.RecordValidation("ok")
		tel.RecordStateTransition("not_installed", "downloading")
		tel.AddActiveDownloads(1)
		tel.RecordSystemError("installer", "panic")
	})

	boom := errors.New("boom")
	err := tel.InstrumentDownload(context.Background(), func(context.Context) (int64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestDisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	called := false
	err = tel.InstrumentOperation(context.Background(), "op", "test", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)
}

func TestHTTPLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			h := HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/apps", nil)
			req = req.WithContext(logctx.WithLogger(req.Context(), logger))
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Contains(t, buf.String(), `"level":"`+tt.level+`"`)
			assert.Contains(t, buf.String(), `"path":"/api/v1/apps"`)
		})
	}
}

func TestRequestID_AnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logctx.LoggerFromContext(r.Context()).InfoContext(r.Context(), "handling")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	req = req.WithContext(logctx.WithLogger(req.Context(), logger))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"request_id":"abc-123"`)
}

func TestHTTPLogging_RoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(logctx.WithLogger(req.Context(), logger)))
		})
	})
	r.Use(HTTPLogging)
	r.Post("/api/v1/apps/{id}/install", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/apps/editor/install", nil))
	assert.Contains(t, buf.String(), `"route":"/api/v1/apps/{id}/install"`)
	assert.Contains(t, buf.String(), `"path":"/api/v1/apps/editor/install"`)
	assert.Contains(t, buf.String(), `"level":"INFO"`)

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
}

type kindErr string

func (k kindErr) Error() string     { return string(k) }
func (k kindErr) ErrorKind() string { return string(k) }

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
		kind string
	}{
		{"nil", nil, "success", ""},
		{"plain", errors.New("boom"), "error", ""},
		{"context cancelled", fmt.Errorf("wrapped: %w", context.Canceled), "cancelled", ""},
		{"cancelled kind", kindErr("cancelled"), "cancelled", "cancelled"},
		{"server error kind", fmt.Errorf("attempt: %w", kindErr("server_error")), "error", "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome(tt.err))
			assert.Equal(t, tt.kind, ErrorKind(tt.err))
		})
	}
}

func TestGetStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", getStatusClass(204))
	assert.Equal(t, "3xx", getStatusClass(302))
	assert.Equal(t, "4xx", getStatusClass(409))
	assert.Equal(t, "5xx", getStatusClass(503))
	assert.Equal(t, "unknown", getStatusClass(101))
}
