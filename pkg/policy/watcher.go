package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the policy engine when its document changes on disk.
// It watches the document's parent directory so editors and config tools that
// replace the file by rename are still observed, and debounces rapid event
// bursts into a single reload.
type Watcher struct {
	engine   *Engine
	fw       *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher for the engine's policy path. debounce <= 0
// selects a 100ms default.
func NewWatcher(engine *Engine, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		engine:   engine,
		fw:       fw,
		logger:   slog.Default().With("component", "policy.watcher"),
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks processing filesystem events until the context is cancelled
// or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	defer close(w.doneCh)

	dir := filepath.Dir(w.engine.config.Path)
	if err := w.fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}
	target := filepath.Clean(w.engine.config.Path)

	w.logger.Info("policy watcher started",
		"path", target,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-w.stopCh:
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.trigger(ctx)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("policy watcher error", "error", err)
		}
	}
}

// trigger schedules a debounced reload.
func (w *Watcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.engine.Reload(); err != nil {
			w.logger.ErrorContext(ctx, "policy reload failed", "error", err)
		}
	})
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fw.Close()
}
