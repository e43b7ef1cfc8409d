package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	log "github.com/modelgate/modelgate/internal/logging"
)

const debounceInterval = 200 * time.Millisecond

// Watch reloads the config file on change and hands each valid new config
// to onReload. Editors write-then-rename, so events are debounced and the
// parent directory is watched rather than the file itself. Blocks until
// the context ends.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceInterval, func() {
			select {
			case pending <- struct{}{}:
			default:
			}
		})
	}

	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			schedule()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config: watcher error: %v", err)
		case <-pending:
			cfg, err := Load(path)
			if err != nil {
				log.Warnf("config: reload of %s failed, keeping previous: %v", path, err)
				continue
			}
			log.Infof("config: reloaded %s", path)
			onReload(cfg)
		}
	}
}
