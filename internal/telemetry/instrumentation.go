package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes must stay low cardinality: operation and component names,
// status values, error kinds. App ids, URLs and paths go to the logs, which
// carry the trace id for correlation.

const (
	statusSuccess   = "success"
	statusError     = "error"
	statusCancelled = "cancelled"
)

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// kindedError is implemented by classified domain errors.
type kindedError interface {
	error
	ErrorKind() string
}

// ErrorKind returns the classification of err, "" when it has none.
func ErrorKind(err error) string {
	var ke kindedError
	if errors.As(err, &ke) {
		return ke.ErrorKind()
	}

	return ""
}

// outcome maps err to one of success, cancelled or error. A cancelled
// operation is not a failure of the system.
func outcome(err error) string {
	switch {
	case err == nil:
		return statusSuccess
	case errors.Is(err, context.Canceled), ErrorKind(err) == statusCancelled:
		return statusCancelled
	default:
		return statusError
	}
}

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	status := outcome(err)

	if status == statusError {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	if kind := ErrorKind(err); kind != "" {
		span.SetAttributes(attribute.String("error.kind", kind))
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation records the outcome and latency of a repository call.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, outcome(err), time.Since(start))

	return err
}

// InstrumentDownload tracks fn as an active download and records its duration
// and the bytes it wrote. Downloads the user cancelled are recorded as
// cancelled, not as errors.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn func(ctx context.Context) (int64, error)) error {
	start := time.Now()

	t.AddActiveDownloads(1)
	defer t.AddActiveDownloads(-1)

	var written int64

	err := t.InstrumentOperation(ctx, "download", "transfer_engine", func(ctx context.Context) error {
		var err error

		written, err = fn(ctx)

		return err
	})

	status := outcome(err)
	if kind := ErrorKind(err); status == statusError && kind != "" {
		status = kind
	}

	t.RecordDownload(status, written, time.Since(start))

	return err
}
