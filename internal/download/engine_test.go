package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, client *http.Client, online bool, timeout time.Duration) *Engine {
	t.Helper()

	return NewEngine(client, fakeConn{online: online}, EngineConfig{
		TempDir:         filepath.Join(t.TempDir(), "tmp"),
		TransferTimeout: timeout,
	}, nil)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}

func tempEntries(t *testing.T, e *Engine) []os.DirEntry {
	t.Helper()

	entries, err := os.ReadDir(e.tempDir)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	return entries
}

func TestEngine_TransferWritesArtifact(t *testing.T) {
	body := make([]byte, 64*1024)
	for i := range body {
		body[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, time.Minute)
	dest := filepath.Join(t.TempDir(), "downloads", "Editor-1.2.0.dmg")

	var fractions []float64
	artifact, err := e.Transfer(context.Background(), Request{
		AppID:       "editor",
		AppName:     "Editor",
		URL:         mustParse(t, srv.URL+"/editor.dmg"),
		Destination: dest,
	}, func(f float64) {
		fractions = append(fractions, f)
	})
	require.NoError(t, err)

	assert.Equal(t, dest, artifact.Path)
	assert.Equal(t, int64(len(body)), artifact.Size)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	require.NotEmpty(t, fractions)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}

	assert.Equal(t, 1.0, fractions[len(fractions)-1])
	assert.Empty(t, tempEntries(t, e))
	assert.Empty(t, e.Sessions())
}

func TestEngine_ReplacesExistingDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("new contents"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "App-2.0.dmg")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	e := newTestEngine(t, srv.Client(), true, time.Minute)

	_, err := e.Transfer(context.Background(), Request{AppID: "app", URL: mustParse(t, srv.URL), Destination: dest}, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new contents", string(got))
}

func TestEngine_FallsBackToExpectedSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write([]byte("0123456789"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, time.Minute)

	var last float64
	_, err := e.Transfer(context.Background(), Request{
		AppID:        "app",
		URL:          mustParse(t, srv.URL),
		ExpectedSize: 40,
		Destination:  filepath.Join(t.TempDir(), "app.dmg"),
	}, func(f float64) { last = f })
	require.NoError(t, err)
	assert.Equal(t, 1.0, last)
}

func TestEngine_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, time.Minute)
	dest := filepath.Join(t.TempDir(), "app.dmg")

	_, err := e.Transfer(context.Background(), Request{AppID: "app", URL: mustParse(t, srv.URL), Destination: dest}, nil)

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindServerError, de.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, de.StatusCode)
	assert.NoFileExists(t, dest)
}

func TestEngine_EmptyBodyIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, time.Minute)
	dest := filepath.Join(t.TempDir(), "app.dmg")

	_, err := e.Transfer(context.Background(), Request{AppID: "app", URL: mustParse(t, srv.URL), Destination: dest}, nil)

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindDownloadFailed, de.Kind)
	assert.Equal(t, "Download failed: empty file", de.Message())
	assert.NoFileExists(t, dest)
}

func TestEngine_RelocationFailureIsFileSystemError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, time.Minute)

	blocker := filepath.Join(t.TempDir(), "downloads")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	dest := filepath.Join(blocker, "app.dmg")

	_, err := e.Transfer(context.Background(), Request{AppID: "app", URL: mustParse(t, srv.URL), Destination: dest}, nil)
	require.Error(t, err)

	assert.Equal(t, KindFileSystemError, KindOf(err))
	assert.True(t, Classify(err).Retryable())
	assert.NoFileExists(t, dest)
	assert.Empty(t, tempEntries(t, e))
	assert.Empty(t, e.Sessions())
}

func TestEngine_Offline(t *testing.T) {
	e := newTestEngine(t, http.DefaultClient, false, time.Minute)

	_, err := e.Transfer(context.Background(), Request{
		AppID:       "app",
		URL:         mustParse(t, "https://example.com/app.dmg"),
		Destination: filepath.Join(t.TempDir(), "app.dmg"),
	}, nil)
	assert.Equal(t, KindNetworkUnavailable, KindOf(err))
}

func TestEngine_CancelRemovesTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("0123456789"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, time.Minute)
	dest := filepath.Join(t.TempDir(), "app.dmg")

	var sessions []Session
	_, err := e.Transfer(context.Background(), Request{
		AppID:       "app",
		AppName:     "App",
		URL:         mustParse(t, srv.URL),
		Destination: dest,
	}, func(float64) {
		sessions = e.Sessions()
		assert.True(t, e.Cancel("app"))
	})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.NoFileExists(t, dest)
	assert.Empty(t, tempEntries(t, e))
	assert.False(t, e.Cancel("app"))

	require.Len(t, sessions, 1)
	assert.Equal(t, "App", sessions[0].AppName)
	assert.Equal(t, int64(1000), sessions[0].TotalBytes)
	assert.Positive(t, sessions[0].BytesReceived)
}

func TestEngine_CancelledContextAfterLastByte(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "4")
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, time.Minute)
	dest := filepath.Join(t.TempDir(), "app.dmg")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.Transfer(ctx, Request{AppID: "app", URL: mustParse(t, srv.URL), Destination: dest}, func(f float64) {
		if f == 1 {
			cancel()
		}
	})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.NoFileExists(t, dest)
}

func TestEngine_TransferTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("0123456789"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, 100*time.Millisecond)

	_, err := e.Transfer(context.Background(), Request{
		AppID:       "app",
		URL:         mustParse(t, srv.URL),
		Destination: filepath.Join(t.TempDir(), "app.dmg"),
	}, nil)

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindDownloadFailed, de.Kind)
	assert.Equal(t, "Download failed: transfer timed out", de.Message())
}

func TestEngine_RejectsConcurrentTransferOfSameApp(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2")
		_, _ = w.Write([]byte("a"))
		w.(http.Flusher).Flush()
		close(started)

		select {
		case <-release:
			_, _ = w.Write([]byte("b"))
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.Client(), true, time.Minute)
	req := Request{AppID: "app", URL: mustParse(t, srv.URL), Destination: filepath.Join(t.TempDir(), "app.dmg")}

	done := make(chan error, 1)
	go func() {
		_, err := e.Transfer(context.Background(), req, nil)
		done <- err
	}()

	<-started
	require.Eventually(t, func() bool { return len(e.Sessions()) == 1 }, time.Second, 5*time.Millisecond)

	_, err := e.Transfer(context.Background(), req, nil)
	assert.Equal(t, KindDownloadFailed, KindOf(err))

	close(release)
	require.NoError(t, <-done)
}
