package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses editor write bursts into one reload.
const watchDebounce = 250 * time.Millisecond

// Watch reloads path whenever it changes and passes the merged result to apply.
// The directory is watched rather than the file so atomic-rename saves are seen.
// Invalid configs are logged and skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fsw.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = true
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)

		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false

			cfg, err := LoadFromFile(absPath)
			if err != nil {
				logger.Warn("Config reload failed", "path", absPath, "error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				logger.Warn("Reloaded config is invalid, keeping previous", "path", absPath, "error", err)
				continue
			}
			logger.Info("Config reloaded", "path", absPath)
			apply(cfg)
		}
	}
}
