package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the configuration file at path and invokes onReload with
// the freshly loaded configuration whenever the file changes. Reload is an
// explicit event, not implicit re-reading: running components keep their
// resolved configuration until onReload swaps it.
//
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors replace files on
	// save, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	target := filepath.Clean(path)

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadFromPath(path)
			if err != nil {
				log.Printf("[config] reload skipped, %s is invalid: %v", path, err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				log.Printf("[config] reload skipped, %s failed validation: %v", path, err)
				continue
			}

			log.Printf("[config] reloaded from %s", path)
			onReload(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[config] watch error: %v", err)
		}
	}
}
