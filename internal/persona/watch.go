package persona

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/felixgeelhaar/sentimemory/internal/observe"
	"github.com/fsnotify/fsnotify"
)

// Reload replaces the registry contents with Defaults overlaid by the
// personas under dir.
func Reload(dir string, r *Registry) error {
	loaded, err := LoadDir(dir)
	if err != nil {
		return err
	}
	r.Replace(append(Defaults(), loaded...)...)
	return nil
}

// Watch keeps r in sync with dir until ctx is cancelled. A file that fails to
// load leaves the previous set in place.
func Watch(ctx context.Context, dir string, r *Registry, obs *observe.Observer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating persona watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching persona dir: %w", err)
	}

	reload := func() {
		if err := Reload(dir, r); err != nil {
			obs.Log().Warn().Str("dir", dir).Err(err).Msg("persona reload failed")
			return
		}
		obs.Log().Info().Str("dir", dir).Int("personas", len(r.List())).Msg("personas reloaded")
	}
	reload()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				// New subdirectories need their own watch.
				_ = watcher.Add(event.Name)
			}
			rel, err := filepath.Rel(dir, event.Name)
			if err != nil || !isPersonaFile(rel) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("persona watcher error: %w", err)
		}
	}
}
