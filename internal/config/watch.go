package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadSettle coalesces the burst of events editors emit for one save.
const reloadSettle = 150 * time.Millisecond

// Watch reloads the YAML file at path whenever it is written or recreated and
// hands the validated result to onChange. Read or validation failures go to
// onError and the previous configuration stays in effect.
// The watcher stops when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return fmt.Errorf("config watch requires a config file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory: editors often replace the file instead of writing it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()

		var reload <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					reload = time.After(reloadSettle)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(fmt.Errorf("config watcher: %w", err))

			case <-reload:
				reload = nil
				cfg, err := LoadFile(path)
				if err != nil {
					onError(err)
					continue
				}
				onChange(cfg)
			}
		}
	}()

	return nil
}
