package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long changes accumulate before the index refreshes.
const DefaultDebounce = 500 * time.Millisecond

// Watch keeps the index current as files under the root change. It blocks
// until ctx is done.
func (s *FileStore) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := addWatchesRecursive(fsw, s.root); err != nil {
		return fmt.Errorf("watch %s: %w", s.root, err)
	}
	s.logger.Info("Knowledge watcher started", "root", s.root, "debounce", debounce)

	pending := make(map[string]bool)

	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatchesRecursive(fsw, event.Name); err != nil {
						s.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			rel, err := filepath.Rel(s.root, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !s.matches(rel) {
				continue
			}
			pending[rel] = true

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			for rel := range pending {
				s.refresh(rel)
			}
			s.logger.Debug("Knowledge index refreshed", "files", len(pending))
			pending = make(map[string]bool)
		}
	}
}

func addWatchesRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := d.Name()
		if path != root && strings.HasPrefix(base, ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
