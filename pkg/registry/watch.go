package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watch re-reads the backing file whenever it is modified externally and
// invokes onChange with the refreshed server mapping. It blocks until ctx is
// cancelled. Watching is best-effort and single-subscriber; callers that
// need guaranteed freshness should call Reload themselves.
func (r *Registry) Watch(ctx context.Context, onChange func(map[string]ServerDefinition)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: start watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and atomic writers replace
	// the file node, which would silently drop a file-level watch.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("registry: watch %s: %w", filepath.Dir(r.path), err)
	}

	target := filepath.Clean(r.path)
	var pending *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(watchDebounce)
				fire = pending.C
			} else {
				pending.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("registry watch error", "path", r.path, "error", err)
		case <-fire:
			pending = nil
			fire = nil
			if err := r.Reload(); err != nil {
				r.logger.Warn("registry reload on change failed", "path", r.path, "error", err)
				continue
			}
			onChange(r.snapshotServers())
		}
	}
}
