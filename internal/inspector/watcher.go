package inspector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/italolelis/apphub_installer/internal/logctx"
)

// DefaultDebounce coalesces bursts of file events from one install.
const DefaultDebounce = time.Second

// Watcher calls onChange after the apps directory, or any bundle in it,
// changed. Bursts of events within the debounce window produce one call.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func(ctx context.Context)
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	pending *time.Timer
}

func NewWatcher(root string, debounce time.Duration, onChange func(ctx context.Context)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create apps directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{root: root, debounce: debounce, onChange: onChange, watcher: w}, nil
}

// Run watches until ctx is done, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	defer w.stop()

	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.root, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			w.add(ctx, filepath.Join(w.root, e.Name()))
		}
	}

	logger.InfoContext(ctx, "watching apps directory", "path", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}

			logger.ErrorContext(ctx, "apps directory watcher error", "err", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	logger := logctx.LoggerFromContext(ctx)

	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}

	// new bundles are watched too so manifest rewrites are seen
	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.root) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.add(ctx, event.Name)
		}
	}

	logger.DebugContext(ctx, "apps directory changed", "file", event.Name, "op", event.Op.String())

	w.trigger(ctx)
}

func (w *Watcher) add(ctx context.Context, dir string) {
	if err := w.watcher.Add(dir); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to watch bundle", "path", dir, "err", err)
	}
}

func (w *Watcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}

	w.pending = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}

		w.onChange(ctx)
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()

	_ = w.watcher.Close()
}
