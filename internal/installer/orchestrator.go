package installer

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/apphub_installer/internal/catalog"
	"github.com/italolelis/apphub_installer/internal/download"
	"github.com/italolelis/apphub_installer/internal/installstate"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/platform"
	"github.com/italolelis/apphub_installer/internal/storage"
	"github.com/italolelis/apphub_installer/internal/telemetry"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultSettleDelay is how long the OS installer gets before the
	// install state is read back from the system.
	DefaultSettleDelay = 2 * time.Second

	defaultArtifactExt = ".dmg"
)

// Validator probes a download URL before the transfer starts.
type Validator interface {
	Validate(ctx context.Context, rawURL string) (*url.URL, error)
}

// Transferer downloads an artifact to its final location.
type Transferer interface {
	Transfer(ctx context.Context, req download.Request, onProgress func(fraction float64)) (*download.Artifact, error)
}

// ArtifactTracker records relocated artifacts for later cleanup.
type ArtifactTracker interface {
	TrackArtifact(ctx context.Context, rec storage.ArtifactRecord) error
}

// Config holds the orchestrator's tunables.
type Config struct {
	DownloadDir string
	SettleDelay time.Duration
	Clock       clockwork.Clock
}

type attempt struct {
	id     string
	cancel context.CancelFunc
	// cleared once the OS handoff begins
	cancellable bool
}

// Orchestrator drives install attempts: validate, transfer, hand off to the
// OS, wait for the installer to settle, then read the real state back. Each
// attempt runs on its own goroutine, which is the only writer of that app's
// state while the attempt lasts.
type Orchestrator struct {
	registry  *installstate.Registry
	validator Validator
	transfer  Transferer
	opener    platform.Opener
	ledger    ArtifactTracker
	telemetry *telemetry.Telemetry

	downloadDir string
	settleDelay time.Duration
	clock       clockwork.Clock

	mu       sync.Mutex
	attempts map[string]*attempt
	lastErr  *DownloadErrorInfo
	wg       sync.WaitGroup
}

// New creates an Orchestrator. ledger may be nil.
func New(
	registry *installstate.Registry,
	validator Validator,
	transfer Transferer,
	opener platform.Opener,
	ledger ArtifactTracker,
	tel *telemetry.Telemetry,
	cfg Config,
) *Orchestrator {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Orchestrator{
		registry:    registry,
		validator:   validator,
		transfer:    transfer,
		opener:      opener,
		ledger:      ledger,
		telemetry:   tel,
		downloadDir: cfg.DownloadDir,
		settleDelay: cfg.SettleDelay,
		clock:       cfg.Clock,
		attempts:    make(map[string]*attempt),
	}
}

// Install starts an attempt for app and returns without waiting for it.
// Progress and the outcome are observed through the registry. It returns
// ErrInProgress, changing nothing, when the app is already downloading or
// installing.
//
// The attempt keeps the values of ctx (logger, trace) but not its
// cancellation: use Cancel to stop it.
func (o *Orchestrator) Install(ctx context.Context, app catalog.AppRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, running := o.attempts[app.ID]; running || o.registry.StateFor(app.ID).InFlight() {
		return ErrInProgress
	}

	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &attempt{id: uuid.NewString(), cancel: cancel, cancellable: true}

	o.attempts[app.ID] = a
	o.wg.Add(1)
	o.registry.Update(app.ID, installstate.Downloading(0))

	go o.run(attemptCtx, a, app)

	return nil
}

// Retry clears the last error and a Failed state, then installs app again.
func (o *Orchestrator) Retry(ctx context.Context, app catalog.AppRecord) error {
	o.ClearError()

	o.mu.Lock()
	if _, running := o.attempts[app.ID]; !running && o.registry.StateFor(app.ID).Status == installstate.StatusFailed {
		o.registry.Update(app.ID, installstate.NotInstalled())
	}
	o.mu.Unlock()

	return o.Install(ctx, app)
}

// Cancel stops the running transfer of appID; the attempt then settles on
// NotInstalled. It reports false when there is nothing to cancel, which
// includes an attempt already handed off to the OS installer.
func (o *Orchestrator) Cancel(appID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.attempts[appID]
	if !ok || !a.cancellable {
		return false
	}

	a.cancel()

	return true
}

// CancelAll cancels every running transfer. Used on shutdown.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, a := range o.attempts {
		a.cancel()
	}
}

// LastError returns the most recent failure, nil when none or cleared.
func (o *Orchestrator) LastError() *DownloadErrorInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lastErr == nil {
		return nil
	}

	cp := *o.lastErr

	return &cp
}

func (o *Orchestrator) ClearError() {
	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()
}

// Wait blocks until every started attempt has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// InFlight reports whether appID has a running attempt.
func (o *Orchestrator) InFlight(appID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.attempts[appID]

	return ok
}

func (o *Orchestrator) run(ctx context.Context, a *attempt, app catalog.AppRecord) {
	defer o.wg.Done()
	defer o.finish(app.ID, a)

	ctx = logctx.WithAttemptID(logctx.WithAppID(ctx, app.ID), a.id)
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "install started", "app_name", app.Name, "version", app.Version)

	_ = o.telemetry.InstrumentOperation(ctx, "install", "orchestrator", func(ctx context.Context) error {
		final, err := o.attempt(ctx, a, app)
		if err != nil {
			o.fail(ctx, app, err)

			return err
		}

		o.registry.Update(app.ID, final)
		o.telemetry.RecordInstall(string(final.Status))

		logger.InfoContext(ctx, "install finished", "state", final.String())

		return nil
	})
}

// attempt runs one install and returns the state to commit, or the error that
// ended it.
func (o *Orchestrator) attempt(ctx context.Context, a *attempt, app catalog.AppRecord) (installstate.InstallState, error) {
	logger := logctx.LoggerFromContext(ctx)

	u, err := o.validator.Validate(ctx, app.DownloadURL)
	if err != nil {
		return installstate.InstallState{}, err
	}

	artifact, err := o.transfer.Transfer(ctx, download.Request{
		AppID:        app.ID,
		AppName:      app.Name,
		URL:          u,
		ExpectedSize: app.DownloadSize,
		Destination:  ArtifactPath(o.downloadDir, app, u),
	}, func(fraction float64) {
		if fraction < 0 {
			return
		}

		o.registry.Update(app.ID, installstate.Downloading(fraction))
	})
	if err != nil {
		return installstate.InstallState{}, err
	}

	if !o.beginInstalling(ctx, a, app.ID) {
		_ = os.Remove(artifact.Path)

		return installstate.InstallState{}, download.ErrCancelled
	}

	if o.ledger != nil {
		rec := storage.ArtifactRecord{AppID: app.ID, Version: app.Version, Path: artifact.Path, Size: artifact.Size, DownloadedAt: o.clock.Now()}
		if err := o.ledger.TrackArtifact(ctx, rec); err != nil {
			logger.WarnContext(ctx, "failed to track artifact", "path", artifact.Path, "err", err)
		}
	}

	if err := o.opener.Open(ctx, artifact.Path); err != nil {
		logger.WarnContext(ctx, "failed to hand artifact to the system installer", "path", artifact.Path, "err", err)
	}

	select {
	case <-o.clock.After(o.settleDelay):
	case <-ctx.Done():
	}

	state, err := o.registry.Resolve(context.WithoutCancel(ctx), app)
	if err != nil {
		logger.ErrorContext(ctx, "failed to resolve state after install", "err", err)

		return installstate.NotInstalled(), nil
	}

	return state, nil
}

// beginInstalling moves the attempt past the point where it can be cancelled.
// It reports false if a cancel got in first.
func (o *Orchestrator) beginInstalling(ctx context.Context, a *attempt, appID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	a.cancellable = false
	o.registry.Update(appID, installstate.Installing())

	return true
}

func (o *Orchestrator) fail(ctx context.Context, app catalog.AppRecord, err error) {
	logger := logctx.LoggerFromContext(ctx)

	de := download.Classify(err)

	if de.Kind == download.KindCancelled {
		logger.InfoContext(ctx, "install cancelled")

		o.registry.Update(app.ID, installstate.NotInstalled())
		o.telemetry.RecordInstall("cancelled")

		return
	}

	logger.ErrorContext(ctx, "install failed", "kind", de.Kind.String(), "err", err)

	o.registry.Update(app.ID, installstate.Failed(de.Message()))
	o.telemetry.RecordInstall(string(installstate.StatusFailed))

	o.mu.Lock()
	o.lastErr = newDownloadErrorInfo(app.ID, app.Name, de, o.clock.Now())
	o.mu.Unlock()
}

func (o *Orchestrator) finish(appID string, a *attempt) {
	a.cancel()

	o.mu.Lock()
	if o.attempts[appID] == a {
		delete(o.attempts, appID)
	}
	o.mu.Unlock()
}

// ArtifactPath is where the artifact of app is stored: <dir>/<name>-<version><ext>,
// with the extension taken from the download URL.
func ArtifactPath(dir string, app catalog.AppRecord, u *url.URL) string {
	ext := defaultArtifactExt
	if u != nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 8 {
			ext = e
		}
	}

	name := sanitize(app.Name)
	if name == "" {
		name = sanitize(app.ID)
	}

	return filepath.Join(dir, name+"-"+sanitize(app.Version)+ext)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}

		return r
	}, strings.TrimSpace(s))
}
