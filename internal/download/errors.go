package download

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Kind classifies why a download or install attempt failed.
type Kind int

const (
	KindDownloadFailed Kind = iota
	KindInvalidURL
	KindNetworkUnavailable
	KindServerError
	KindFileNotFound
	KindFileSystemError
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindServerError:
		return "server_error"
	case KindFileNotFound:
		return "file_not_found"
	case KindFileSystemError:
		return "file_system_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "download_failed"
	}
}

// Error is the classified failure of a validation, transfer or relocation.
type Error struct {
	Kind       Kind
	StatusCode int    // HTTP status for KindServerError
	Reason     string // short explanation when there is no underlying error
	Err        error  // Underlying error, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Kind, e.StatusCode)
	}

	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}

	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the text shown to users.
func (e *Error) Message() string {
	switch e.Kind {
	case KindInvalidURL:
		return "Invalid download URL"
	case KindNetworkUnavailable:
		return "No internet connection"
	case KindServerError:
		return fmt.Sprintf("Server error (HTTP %d)", e.StatusCode)
	case KindFileNotFound:
		return "File not found on server"
	case KindFileSystemError:
		return "File system error: " + e.detail()
	case KindCancelled:
		return "Download cancelled"
	default:
		return "Download failed: " + e.detail()
	}
}

// ErrorKind names the failure class for metrics and span attributes.
func (e *Error) ErrorKind() string {
	return e.Kind.String()
}

// Retryable reports whether retrying without any other change can succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindInvalidURL && e.Kind != KindCancelled
}

// NeedsCatalogRefresh reports whether the catalog entry itself is likely wrong.
func (e *Error) NeedsCatalogRefresh() bool {
	return e.Kind == KindInvalidURL || e.Kind == KindFileNotFound
}

func (e *Error) detail() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "unknown error"
	}
}

// Is matches another *Error of the same kind, so errors.Is(err, ErrCancelled) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind && (t.StatusCode == 0 || t.StatusCode == e.StatusCode)
}

// ErrCancelled is returned when the caller cancelled the transfer.
var ErrCancelled = &Error{Kind: KindCancelled}

// Classify converts any error into an *Error. Already classified errors are
// returned as they are; context cancellation becomes KindCancelled.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var de *Error
	if errors.As(err, &de) {
		return de
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Err: err}
	case isConnectivityError(err):
		return &Error{Kind: KindNetworkUnavailable, Err: err}
	default:
		return &Error{Kind: KindDownloadFailed, Err: err}
	}
}

// KindOf returns the kind of err, KindDownloadFailed for unclassified errors.
func KindOf(err error) Kind {
	return Classify(err).Kind
}

// isConnectivityError reports failures that mean the host is unreachable from
// here: name resolution, refused or unreachable connects. Timeouts are not
// connectivity errors.
func isConnectivityError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return false
}

func fsError(reason string, err error) *Error {
	if errors.Is(err, os.ErrPermission) {
		reason += ": permission denied"
	}

	return &Error{Kind: KindFileSystemError, Reason: reason, Err: err}
}
