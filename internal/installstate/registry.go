package installstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/apphub_installer/internal/catalog"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/telemetry"
	"github.com/italolelis/apphub_installer/internal/version"
	"golang.org/x/sync/errgroup"
)

const maxParallelQueries = 8

// Inspector reports what is installed on the local system.
type Inspector interface {
	// InstalledVersion returns installed=false when no bundle with bundleID
	// exists. An installed bundle without readable version returns "".
	InstalledVersion(ctx context.Context, bundleID string) (version string, installed bool, err error)
}

// StateChange is delivered to subscribers after every committed change.
type StateChange struct {
	AppID    string       `json:"appId"`
	Previous InstallState `json:"previous"`
	Current  InstallState `json:"current"`
	At       time.Time    `json:"at"`
}

// Registry is the single source of truth for install states. It is created once
// at process start and handed to every component that needs it.
type Registry struct {
	inspector Inspector
	telemetry *telemetry.Telemetry

	mu      sync.RWMutex
	states  map[string]InstallState
	subs    map[int]*subscriber
	nextSub int
}

func NewRegistry(inspector Inspector, tel *telemetry.Telemetry) *Registry {
	return &Registry{
		inspector: inspector,
		telemetry: tel,
		states:    make(map[string]InstallState),
		subs:      make(map[int]*subscriber),
	}
}

// StateFor returns the current state of appID, NotInstalled when unknown.
func (r *Registry) StateFor(appID string) InstallState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.states[appID]; ok {
		return s
	}

	return NotInstalled()
}

// Snapshot returns a copy of every known state.
func (r *Registry) Snapshot() map[string]InstallState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]InstallState, len(r.states))
	for id, s := range r.states {
		out[id] = s
	}

	return out
}

// Update overwrites the state of appID.
func (r *Registry) Update(appID string, state InstallState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.commitLocked(appID, state)
}

// RefreshAll recomputes the state of every app from the inspector. Apps with an
// install attempt in flight keep their state.
func (r *Registry) RefreshAll(ctx context.Context, apps []catalog.AppRecord) error {
	logger := logctx.LoggerFromContext(ctx)

	resolved := make([]InstallState, len(apps))
	ok := make([]bool, len(apps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQueries)

	for i := range apps {
		i := i
		app := apps[i]

		if r.StateFor(app.ID).InFlight() {
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			s, err := r.Resolve(gctx, app)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				logger.WarnContext(ctx, "failed to resolve install state", "app_id", app.ID, "bundle_id", app.BundleID, "err", err)

				return nil
			}

			resolved[i] = s
			ok[i] = true

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to refresh install states: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, app := range apps {
		if !ok[i] {
			continue
		}

		// an attempt may have started while the inspector was queried
		if cur, exists := r.states[app.ID]; exists && cur.InFlight() {
			continue
		}

		r.commitLocked(app.ID, resolved[i])
	}

	logger.DebugContext(ctx, "install states refreshed", "app_count", len(apps))

	return nil
}

// Resolve derives the state of app from the local system, ignoring what the
// registry currently holds.
func (r *Registry) Resolve(ctx context.Context, app catalog.AppRecord) (InstallState, error) {
	installedVersion, installed, err := r.inspector.InstalledVersion(ctx, app.BundleID)
	if err != nil {
		return InstallState{}, fmt.Errorf("failed to inspect %s: %w", app.BundleID, err)
	}

	if !installed {
		return NotInstalled(), nil
	}

	if installedVersion == "" {
		return Installed(UnknownVersion), nil
	}

	if version.Less(installedVersion, app.Version) {
		return UpdateAvailable(installedVersion, app.Version), nil
	}

	return Installed(installedVersion), nil
}

// InstalledApps returns the apps that are installed, updatable ones included.
func (r *Registry) InstalledApps(apps []catalog.AppRecord) []catalog.AppRecord {
	return r.filter(apps, func(s InstallState) bool { return s.IsInstalled() })
}

// AppsWithUpdates returns the apps whose installed version is older than the catalog's.
func (r *Registry) AppsWithUpdates(apps []catalog.AppRecord) []catalog.AppRecord {
	return r.filter(apps, func(s InstallState) bool { return s.Status == StatusUpdateAvailable })
}

// Subscribe registers an observer. Changes are delivered in commit order. A
// subscriber that falls behind may see several progress updates of an app
// folded into the latest one, but never misses a status change. The
// returned func unsubscribes and closes the channel.
func (r *Registry) Subscribe() (<-chan StateChange, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++

	sub := newSubscriber()
	r.subs[id] = sub

	var once sync.Once

	return sub.out, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()

			sub.stop()
		})
	}
}

func (r *Registry) filter(apps []catalog.AppRecord, keep func(InstallState) bool) []catalog.AppRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]catalog.AppRecord, 0)

	for _, app := range apps {
		s, ok := r.states[app.ID]
		if !ok {
			s = NotInstalled()
		}

		if keep(s) {
			out = append(out, app)
		}
	}

	return out
}

func (r *Registry) commitLocked(appID string, state InstallState) {
	prev, ok := r.states[appID]
	if !ok {
		prev = NotInstalled()
	}

	r.states[appID] = state

	if ok && prev == state {
		return
	}

	if prev.Status != state.Status {
		r.telemetry.RecordStateTransition(string(prev.Status), string(state.Status))
	}

	change := StateChange{AppID: appID, Previous: prev, Current: state, At: time.Now()}

	for _, sub := range r.subs {
		sub.push(change)
	}
}
