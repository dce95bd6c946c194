package livestream

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// WaitForManifest blocks until path exists or ctx is done. The transcoder
// writes the playlist through a rename, so both create and write events on
// the exact path count.
func WaitForManifest(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(path))
	}
	// checked after Add so a file created in between is not missed
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(event.Name) != path || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return errors.Wrap(err, "watch manifest")
		}
	}
}

// ManifestExists reports whether the live playlist for cameraID is present.
func ManifestExists(hlsRoot, cameraID string) bool {
	info, err := os.Stat(ManifestPath(hlsRoot, cameraID))
	return err == nil && !info.IsDir()
}
