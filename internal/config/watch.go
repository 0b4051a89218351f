package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/exhibit-kiosk/internal/logger"
)

// Watch reloads the settings file whenever it is written and hands the
// validated result to onChange. Invalid files are logged and skipped.
// It blocks until ctx is canceled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		path = DefaultConfigFilename
	}

	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	defer func() {
		_ = watcher.Close()
	}()

	// Editors replace files on save, so the directory is watched instead of the file.
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, loadErr := Load(path)
			if loadErr != nil {
				logger.WarnKV(ctx, "Ignoring invalid settings change", "path", path, "error", loadErr)
				continue
			}

			logger.InfoKV(ctx, "Settings reloaded", "path", path)
			onChange(cfg)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.WarnKV(ctx, "Settings watcher error", "error", watchErr)
		}
	}
}
