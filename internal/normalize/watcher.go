package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow coalesces the burst of events an editor save emits.
const DefaultDebounceWindow = 200 * time.Millisecond

// Watcher reloads a mapping file into a Normalizer whenever it changes.
// A file that fails to load or validate leaves the current snapshot in place.
type Watcher struct {
	path       string
	normalizer *Normalizer
	window     time.Duration

	fsWatcher *fsnotify.Watcher
	mu        sync.Mutex
	timer     *time.Timer
	stopped   bool
}

// NewWatcher watches path for n. The parent directory is watched so that
// rename-on-save editors are seen.
func NewWatcher(path string, n *Normalizer, window time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve mapping path: %w", err)
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:       abs,
		normalizer: n,
		window:     window,
		fsWatcher:  fsw,
	}, nil
}

// Run processes events until ctx is done or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("entity_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// schedule (re)arms the reload timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	snap, err := LoadFileSnapshot(w.path)
	if err != nil {
		slog.Warn("entity_mappings_reload_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	w.normalizer.Swap(snap)
	slog.Info("entity_mappings_reloaded",
		slog.String("path", w.path),
		slog.Int("entities", snap.Len()),
		slog.Uint64("version", snap.Version()))
}

// Stop releases the file watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	return w.fsWatcher.Close()
}
