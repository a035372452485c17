package folder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits a signal whenever anything under Root changes, letting the
// session trigger an incremental re-scan instead of polling on a timer.
// BDP's core treats this purely as a hint: a received event just causes the
// next change-detection pass to run sooner, the scan itself is always the
// source of truth (spec.md §4.3 decision table).
type Watcher struct {
	root   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger
	events chan struct{}
}

// NewWatcher creates a recursive watch over root.
func NewWatcher(root string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("folder: creating watcher: %w", err)
	}

	w := &Watcher{root: root, fsw: fsw, logger: logger, events: make(chan struct{}, 1)}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Events returns a channel that receives a value (coalesced — buffer of 1)
// whenever the watched tree changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Run drains the underlying fsnotify event/error channels until ctx is
// cancelled, coalescing bursts of events into single signals on Events().
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if ev.Has(fsnotify.Create) {
				if err := w.addRecursive(ev.Name); err != nil {
					w.logger.Debug("watch: failed to add new path", "path", ev.Name, "error", err)
				}
			}

			select {
			case w.events <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("watch: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return fsWalkDirs(root, func(dir string) error {
		return w.fsw.Add(dir)
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
