package artifacts

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jaxs-ribs/codewalk/internal/wslog"
)

// Watcher observes the directory passed to Start (typically one
// {root}/sessions/{id}/artifacts/ directory) for out-of-band changes (a
// peer editing a file directly on disk) and triggers a debounced registry
// reload. Subdirectories are not watched.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	registry  *Registry
	debounce  time.Duration
	done      chan struct{}
}

// DefaultDebounce coalesces bursts of filesystem events into one reload.
const DefaultDebounce = 100 * time.Millisecond

// NewWatcher builds a Watcher that reloads registry whenever the directory
// later passed to Start changes. root itself is not watched.
func NewWatcher(root string, registry *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("artifacts: creating fsnotify watcher: %w", err)
	}
	return &Watcher{fsWatcher: fsw, registry: registry, debounce: DefaultDebounce, done: make(chan struct{})}, nil
}

// Start begins watching dir (typically {root}/sessions/{id}/artifacts).
func (w *Watcher) Start(dir string) error {
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("artifacts: watching %s: %w", dir, err)
	}
	go w.loop()
	return nil
}

// Stop releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, w.reload)
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			wslog.Warn(wslog.CatArtifacts, "watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	if err := w.registry.Load(); err != nil {
		wslog.Warn(wslog.CatArtifacts, "registry reload failed", "err", err)
	}
}
