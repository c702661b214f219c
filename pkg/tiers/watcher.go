package tiers

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is how long after the last file event a reload
// waits, so editors writing in several steps trigger one reload.
const DefaultDebounceInterval = 100 * time.Millisecond

// Watch reloads the store whenever its tier file changes on disk. It
// blocks until ctx is cancelled. Reload failures are logged and the
// previous table stays in effect.
//
// The file's directory is watched rather than the file itself: editors
// replace files by rename, which would silently detach a file watch.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	debounce := newDebouncer(DefaultDebounceInterval)
	defer debounce.Stop()

	s.logger.Info("tier file watcher started",
		"path", s.path,
		"debounce_ms", DefaultDebounceInterval.Milliseconds(),
	)

	base := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tier file watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			s.logger.Debug("tier file event",
				"path", event.Name,
				"op", event.Op.String(),
			)

			debounce.Trigger(func() {
				if err := s.Reload(); err != nil {
					s.logger.Error("tier reload failed, keeping previous table",
						"error", err,
					)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			s.logger.Error("tier file watcher error", "error", err)
			// Continue watching despite errors
		}
	}
}

// debouncer collects rapid events and runs the callback only after a
// quiet period.
type debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopCh   chan struct{}
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Trigger arms the debouncer with a new event. The callback runs after
// the interval if no new events arrive.
func (d *debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		select {
		case <-d.stopCh:
			return
		default:
			d.mu.Lock()
			cb := d.callback
			d.mu.Unlock()
			if cb != nil {
				cb()
			}
		}
	})
}

// Stop cancels any pending callback.
func (d *debouncer) Stop() {
	close(d.stopCh)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
