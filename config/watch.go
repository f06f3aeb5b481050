package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/loom/errors"
)

// Watch observes a config file and invokes onChange with the freshly loaded
// configuration whenever it is written. Only runtime-adjustable knobs should
// be applied by the callback (log level, idle timeout); structural settings
// like worker count require a restart.
//
// The returned stop function releases the watcher.
func Watch(path string, log *zap.SugaredLogger, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config watcher")
	}

	// Watch the directory rather than the file: editors replace files on
	// save, which drops inotify watches on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", dir)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadFromFile(target)
				if err != nil {
					log.Warnw("config reload failed", "file", target, "error", err)
					continue
				}
				log.Infow("config reloaded", "file", target)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnw("config watcher error", "error", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
