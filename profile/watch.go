package profile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch watches dir for changes to its *.yaml/*.yml files and reloads the
// profile table into r on every change, debounced to coalesce a burst of
// writes (e.g. an editor's save-then-rename) into one reload. The returned
// channel receives a reload error whenever LoadAll fails after a change;
// a successful reload sends nothing. Watch stops and closes the channel
// when ctx is cancelled.
func (r *Resolver) Watch(ctx context.Context, dir string) (<-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("profile: creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("profile: watching %s: %w", dir, err)
	}

	errs := make(chan error, 1)
	go r.watchLoop(ctx, watcher, dir, errs)
	return errs, nil
}

func (r *Resolver) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, dir string, errs chan<- error) {
	defer close(errs)
	defer watcher.Close()

	var debounceTimer *time.Timer
	reload := func() {
		table, err := LoadAll(dir)
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		r.Replace(table)
		slog.Info("profile: reloaded", "dir", dir)
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("profile: watcher error", "error", err)
		}
	}
}
