package config

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of filesystem events an editor save
// produces into one reload.
const reloadDebounce = 100 * time.Millisecond

// ErrNoConfigFile indicates Watch was called on a manager without a file
// path.
var ErrNoConfigFile = errors.New("no config file to watch")

// Watch reloads the configuration whenever the file changes. The watch
// is on the parent directory, not the file, so atomic replace-by-rename
// saves are observed. A failed reload keeps the previous snapshot and
// logs; only startup treats invalid configuration as fatal.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return ErrNoConfigFile
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target := filepath.Clean(m.path)
	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopWatch:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		case <-timer.C:
			if err := m.Reload(); err != nil {
				m.logger.Warn("config reload failed, keeping previous snapshot",
					"path", m.path,
					"error", err)
				continue
			}
			m.logger.Info("configuration reloaded", "path", m.path)
		}
	}
}
