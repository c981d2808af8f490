package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent describes the last filesystem event of a debounced burst.
type ChangeEvent struct {
	Path       string
	ChangeType string // "create", "write", "remove", "rename"
}

// StateWatcher watches one file and calls onChange after it settles. The
// directory is watched rather than the file so that replacing the file by
// rename is seen.
type StateWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(context.Context, ChangeEvent) error
	logger   *slog.Logger
}

// NewStateWatcher creates a watcher for path.
func NewStateWatcher(path string, debounce time.Duration, onChange func(context.Context, ChangeEvent) error, logger *slog.Logger) (*StateWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	if debounce == 0 {
		debounce = 300 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateWatcher{
		watcher:  w,
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Run starts the event loop. It blocks until the context is cancelled.
// Failures of onChange are logged and do not stop the loop.
func (w *StateWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	settled := make(chan struct{}, 1)
	var last ChangeEvent
	debouncer := NewDebouncer(w.debounce, func() {
		select {
		case settled <- struct{}{}:
		default:
		}
	})
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-settled:
			if w.onChange == nil {
				continue
			}
			if err := w.onChange(ctx, last); err != nil {
				w.logger.Warn("state change handler failed", "path", last.Path, "change", last.ChangeType, "error", err)
			}

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			changeType := opToChangeType(event.Op)
			if changeType == "" {
				continue
			}
			w.logger.Debug("state file changed", "path", event.Name, "change", changeType)
			last = ChangeEvent{Path: event.Name, ChangeType: changeType}
			debouncer.Trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

func opToChangeType(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
