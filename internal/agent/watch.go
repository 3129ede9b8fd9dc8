package agent

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchDevicesFile watches the device description file and logs when it
// changes. Device registration is immutable after startup (a duplicate
// uuid is rejected, the existing registration wins), so a changed file
// means the operator must restart the agent to pick it up.
func (a *Agent) WatchDevicesFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files, which drops the watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				a.log.Warn("device file changed on disk; restart the agent to apply",
					zap.String("path", path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("device file watcher error", zap.Error(err))
		}
	}
}
