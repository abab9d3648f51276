package download

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"invalid url", &Error{Kind: KindInvalidURL}, "Invalid download URL"},
		{"offline", &Error{Kind: KindNetworkUnavailable}, "No internet connection"},
		{"server error", &Error{Kind: KindServerError, StatusCode: 500}, "Server error (HTTP 500)"},
		{"not found", &Error{Kind: KindFileNotFound, StatusCode: 404}, "File not found on server"},
		{"empty file", &Error{Kind: KindDownloadFailed, Reason: "empty file"}, "Download failed: empty file"},
		{"wrapped", &Error{Kind: KindDownloadFailed, Err: errors.New("boom")}, "Download failed: boom"},
		{"fs", &Error{Kind: KindFileSystemError, Reason: "failed to move artifact"}, "File system error: failed to move artifact"},
		{"cancelled", &Error{Kind: KindCancelled}, "Download cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Message())
		})
	}
}

func TestError_ErrorString(t *testing.T) {
	assert.Equal(t, "server_error (HTTP 503)", (&Error{Kind: KindServerError, StatusCode: 503}).Error())
	assert.Equal(t, "download_failed: empty file", (&Error{Kind: KindDownloadFailed, Reason: "empty file"}).Error())
	assert.Equal(t, "cancelled", ErrCancelled.Error())
}

func TestError_Flags(t *testing.T) {
	assert.False(t, (&Error{Kind: KindInvalidURL}).Retryable())
	assert.False(t, (&Error{Kind: KindCancelled}).Retryable())
	assert.True(t, (&Error{Kind: KindServerError, StatusCode: 502}).Retryable())
	assert.True(t, (&Error{Kind: KindNetworkUnavailable}).Retryable())

	assert.True(t, (&Error{Kind: KindFileNotFound}).NeedsCatalogRefresh())
	assert.True(t, (&Error{Kind: KindInvalidURL}).NeedsCatalogRefresh())
	assert.False(t, (&Error{Kind: KindServerError}).NeedsCatalogRefresh())
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := os.ErrPermission
	err := fmt.Errorf("install: %w", fsError("failed to move artifact", cause))

	assert.ErrorIs(t, err, os.ErrPermission)
	assert.ErrorIs(t, err, &Error{Kind: KindFileSystemError})
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Contains(t, KindOf(err).String(), "file_system_error")

	var de *Error
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, "File system error: failed to move artifact: permission denied", de.Message())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"cancelled", context.Canceled, KindCancelled},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, KindNetworkUnavailable},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindNetworkUnavailable},
		{"timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindDownloadFailed},
		{"other", errors.New("unexpected EOF"), KindDownloadFailed},
		{"classified", &Error{Kind: KindFileNotFound}, KindFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Kind)
		})
	}

	assert.Nil(t, Classify(nil))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
