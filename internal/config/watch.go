package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"sortline/internal/logging"
)

// watchDebounce coalesces the burst of filesystem events editors produce for
// a single save.
const watchDebounce = 500 * time.Millisecond

// Watch runs a filesystem watcher that nudges ReloadIfChanged whenever the
// backing file is written. The timestamp comparison inside ReloadIfChanged
// stays the source of truth; the watcher only removes polling latency.
// onChange is invoked with the new document after each successful swap.
// Watch blocks until ctx is done and is best-effort: when the watcher cannot
// be created the periodic reload checks still cover hot reload.
func (s *Store) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("config watcher unavailable; relying on periodic reload checks",
			logging.Error(err),
			logging.String(logging.FieldEventType, "config_watch_unavailable"),
		)
		<-ctx.Done()
		return nil
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		s.logger.Warn("config watch failed; relying on periodic reload checks",
			logging.Error(err),
			logging.String(logging.FieldEventType, "config_watch_unavailable"),
		)
		<-ctx.Done()
		return nil
	}

	var debounce *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "config_watch_error"),
			)
		case <-pending:
			swapped, err := s.ReloadIfChanged()
			if err != nil {
				s.logger.Error("config hot reload rejected; keeping previous configuration",
					logging.Error(err),
					logging.String(logging.FieldEventType, "config_reload_failed"),
					logging.String(logging.FieldErrorHint, "fix the configuration file; the running document is unchanged"),
				)
				continue
			}
			if swapped && onChange != nil {
				onChange(s.Current())
			}
		}
	}
}
