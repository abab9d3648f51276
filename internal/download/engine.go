package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/apphub_installer/internal/download/progress"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/telemetry"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// DefaultTransferTimeout bounds a whole transfer, body included.
	DefaultTransferTimeout = 300 * time.Second
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 30 * time.Second
)

// Request describes one transfer.
type Request struct {
	AppID        string
	AppName      string
	URL          *url.URL
	ExpectedSize int64  // used when the server sends no Content-Length
	Destination  string // final artifact path; replaced if it exists
}

// Artifact is a completed, relocated download.
type Artifact struct {
	Path string
	Size int64
}

// Session is the live view of one transfer. It only exists while the
// transfer runs.
type Session struct {
	AppID         string    `json:"appId"`
	AppName       string    `json:"appName"`
	Progress      float64   `json:"progress"`
	BytesReceived int64     `json:"bytesReceived"`
	TotalBytes    int64     `json:"totalBytes"`
	StartedAt     time.Time `json:"startedAt"`

	cancel context.CancelFunc
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	TempDir         string
	TransferTimeout time.Duration
}

// Engine streams artifacts to disk and moves them into place.
type Engine struct {
	client          *http.Client
	conn            Connectivity
	tempDir         string
	transferTimeout time.Duration
	telemetry       *telemetry.Telemetry

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewEngine(client *http.Client, conn Connectivity, cfg EngineConfig, tel *telemetry.Telemetry) *Engine {
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}

	return &Engine{
		client:          client,
		conn:            conn,
		tempDir:         cfg.TempDir,
		transferTimeout: cfg.TransferTimeout,
		telemetry:       tel,
		sessions:        make(map[string]*Session),
	}
}

// Transfer downloads req.URL into req.Destination. onProgress receives the
// completed fraction in [0, 1], never decreasing, or progress.Indeterminate
// when the size is unknown. It is called on the calling goroutine.
//
// Every failure is returned as an *Error. Cancelling ctx or calling Cancel
// yields KindCancelled and leaves nothing at the destination.
func (e *Engine) Transfer(ctx context.Context, req Request, onProgress func(fraction float64)) (*Artifact, error) {
	var artifact *Artifact

	err := e.telemetry.InstrumentDownload(ctx, func(ctx context.Context) (int64, error) {
		var err error

		artifact, err = e.transfer(ctx, req, onProgress)
		if artifact != nil {
			return artifact.Size, err
		}

		return 0, err
	})

	return artifact, err
}

// Cancel aborts the running transfer of appID. It reports whether one was running.
func (e *Engine) Cancel(appID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[appID]
	if !ok {
		return false
	}

	s.cancel()

	return true
}

// Sessions returns a snapshot of the running transfers ordered by start time.
func (e *Engine) Sessions() []Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		cp := *s
		cp.cancel = nil
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out
}

func (e *Engine) transfer(ctx context.Context, req Request, onProgress func(float64)) (*Artifact, error) {
	logger := logctx.LoggerFromContext(ctx)

	if !e.conn.Online() {
		return nil, &Error{Kind: KindNetworkUnavailable, Reason: "offline"}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := e.register(req, cancel)
	if err != nil {
		return nil, err
	}
	defer e.unregister(req.AppID)

	transferCtx, cancelTimeout := context.WithTimeout(sessionCtx, e.transferTimeout)
	defer cancelTimeout()

	tmpPath, written, err := e.fetch(transferCtx, req, session, onProgress)
	if err != nil {
		return nil, e.classifyTransferError(sessionCtx, transferCtx, err)
	}

	// the bytes may be complete, but a cancel observed now still wins
	if sessionCtx.Err() != nil {
		_ = os.Remove(tmpPath)

		return nil, &Error{Kind: KindCancelled, Err: sessionCtx.Err()}
	}

	logger.InfoContext(ctx, "download completed", "size", humanize.Bytes(uint64(written)), "destination", req.Destination)

	if err := relocate(tmpPath, req.Destination); err != nil {
		_ = os.Remove(tmpPath)

		return nil, err
	}

	info, err := os.Stat(req.Destination)
	if err != nil {
		return nil, fsError("failed to stat artifact", err)
	}

	if info.Size() == 0 {
		_ = os.Remove(req.Destination)

		return nil, &Error{Kind: KindDownloadFailed, Reason: "empty file"}
	}

	return &Artifact{Path: req.Destination, Size: info.Size()}, nil
}

// fetch streams the response body into a temp file and returns its path.
// The temp file is removed on error.
func (e *Engine) fetch(ctx context.Context, req Request, session *Session, onProgress func(float64)) (string, int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return "", 0, &Error{Kind: KindInvalidURL, Err: err}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &Error{Kind: KindServerError, StatusCode: resp.StatusCode}
	}

	total := resp.ContentLength
	if total <= 0 {
		total = req.ExpectedSize
	}

	e.mu.Lock()
	session.TotalBytes = total
	e.mu.Unlock()

	logger.InfoContext(ctx, "downloading artifact", "url", req.URL.Redacted(), "size", humanize.Bytes(uint64(max(total, 0))))

	if err := os.MkdirAll(e.tempDir, dirPerm); err != nil {
		return "", 0, fsError("failed to create temp directory", err)
	}

	tmp, err := os.CreateTemp(e.tempDir, "apphub-*.part")
	if err != nil {
		return "", 0, fsError("failed to create temp file", err)
	}

	tmpPath := tmp.Name()

	pr := progress.NewReader(ctx, resp.Body, total, func(fraction float64, read, total int64) {
		e.mu.Lock()
		session.BytesReceived = read
		if fraction >= 0 {
			session.Progress = fraction
		}
		e.mu.Unlock()

		if onProgress != nil {
			onProgress(fraction)
		}
	})

	written, copyErr := io.Copy(tmp, pr)

	if copyErr == nil {
		copyErr = tmp.Sync()
	}

	if closeErr := tmp.Close(); copyErr == nil && closeErr != nil {
		copyErr = fsError("failed to close temp file", closeErr)
	}

	if copyErr != nil {
		_ = os.Remove(tmpPath)

		return "", written, copyErr
	}

	return tmpPath, written, nil
}

func (e *Engine) register(req Request, cancel context.CancelFunc) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sessions[req.AppID]; exists {
		return nil, &Error{Kind: KindDownloadFailed, Reason: "transfer already running"}
	}

	s := &Session{
		AppID:      req.AppID,
		AppName:    req.AppName,
		TotalBytes: req.ExpectedSize,
		StartedAt:  time.Now(),
		cancel:     cancel,
	}
	e.sessions[req.AppID] = s

	return s, nil
}

func (e *Engine) unregister(appID string) {
	e.mu.Lock()
	delete(e.sessions, appID)
	e.mu.Unlock()
}

func (e *Engine) classifyTransferError(sessionCtx, transferCtx context.Context, err error) error {
	switch {
	case sessionCtx.Err() != nil:
		return &Error{Kind: KindCancelled, Err: sessionCtx.Err()}
	case errors.Is(transferCtx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindDownloadFailed, Reason: "transfer timed out", Err: err}
	}

	var de *Error
	if errors.As(err, &de) {
		return de
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindDownloadFailed, Err: err}
	}

	return Classify(err)
}

// relocate moves src to dst, replacing dst. Across file systems it falls back
// to copy and remove.
func relocate(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fsError("failed to create destination directory", err)
	}

	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fsError("failed to remove existing artifact", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return fsError("failed to move artifact", err)
	}

	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)

		return fsError("failed to copy artifact", err)
	}

	_ = os.Remove(src)

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return fmt.Errorf("failed to copy: %w", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()

		return err
	}

	return out.Close()
}
