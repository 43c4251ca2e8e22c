package config

import (
	"path/filepath"
	"sync"
	"time"

	"clawflow/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the log level when the config file changes on disk, so a
// long-running serve process can be turned verbose without a restart.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	done      chan struct{}
	stopOnce  sync.Once
}

// Watch starts watching the config file at path. A zero path watches the
// default location.
func Watch(path string) (*Watcher, error) {
	if path == "" {
		path = DefaultPath()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace the file rather than write in place.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		path:      path,
		done:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var last time.Time
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Debounce bursts from editors writing in chunks.
			if time.Since(last) < 500*time.Millisecond {
				continue
			}
			last = time.Now()
			w.reload()
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Warn("config reload failed", "path", w.path, "error", err)
		return
	}
	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	logging.Info("log level reloaded", "level", cfg.Logging.Level)
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsWatcher.Close()
	})
}
