package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ online bool }

func (f fakeConn) Online() bool { return f.online }

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://example.com/app.dmg", false},
		{"http://example.com/app.dmg", false},
		{"  https://example.com/app.dmg  ", false},
		{"ftp://example.com/app.dmg", true},
		{"example.com/app.dmg", true},
		{"https://", true},
		{"://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ParseURL(tt.raw)
			if tt.wantErr {
				assert.Equal(t, KindInvalidURL, KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind Kind
		wantOK   bool
	}{
		{"ok", http.StatusOK, 0, true},
		{"no content", http.StatusNoContent, 0, true},
		{"not found", http.StatusNotFound, KindFileNotFound, false},
		{"server error", http.StatusInternalServerError, KindServerError, false},
		{"forbidden", http.StatusForbidden, KindServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var method string

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				method = r.Method
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			v := NewValidator(srv.Client(), fakeConn{online: true}, time.Second, nil)

			u, err := v.Validate(context.Background(), srv.URL+"/app.dmg")
			assert.Equal(t, http.MethodHead, method)

			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, srv.URL+"/app.dmg", u.String())

				return
			}

			var de *Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.wantKind, de.Kind)
			assert.Equal(t, tt.status, de.StatusCode)
		})
	}
}

func TestValidator_OfflineSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	v := NewValidator(srv.Client(), fakeConn{online: false}, time.Second, nil)

	_, err := v.Validate(context.Background(), srv.URL)
	assert.Equal(t, KindNetworkUnavailable, KindOf(err))
	assert.False(t, called)
}

func TestValidator_InvalidURLSkipsRequest(t *testing.T) {
	v := NewValidator(http.DefaultClient, fakeConn{online: false}, time.Second, nil)

	_, err := v.Validate(context.Background(), "not a url")
	assert.Equal(t, KindInvalidURL, KindOf(err))
}

func TestValidator_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	v := NewValidator(NewHTTPClient(time.Second), fakeConn{online: true}, time.Second, nil)

	_, err := v.Validate(context.Background(), addr)
	assert.Equal(t, KindNetworkUnavailable, KindOf(err))
}

func TestValidator_ProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	v := NewValidator(srv.Client(), fakeConn{online: true}, 50*time.Millisecond, nil)

	_, err := v.Validate(context.Background(), srv.URL)
	assert.Equal(t, KindDownloadFailed, KindOf(err))
}
