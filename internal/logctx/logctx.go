package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	appIDKey   contextKey = "app_id"
	attemptKey contextKey = "attempt_id"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithAppID marks ctx as belonging to work on a single catalog app.
// ContextHandler adds it to every record logged with that context.
func WithAppID(ctx context.Context, appID string) context.Context {
	return context.WithValue(ctx, appIDKey, appID)
}

// AppIDFromContext returns the app id set by WithAppID.
func AppIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(appIDKey).(string)

	return id
}

// WithAttemptID marks ctx as belonging to one install attempt.
func WithAttemptID(ctx context.Context, attemptID string) context.Context {
	return context.WithValue(ctx, attemptKey, attemptID)
}

// AttemptIDFromContext returns the attempt id set by WithAttemptID.
func AttemptIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(attemptKey).(string)

	return id
}
