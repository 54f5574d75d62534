package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces rapid successive writes (editors often save in
// multiple steps) into a single reload.
const debounceDelay = 100 * time.Millisecond

// Watcher reloads a config file from disk whenever it changes and hands
// the freshly-loaded, defaulted, validated Config to OnChange. A reload
// that fails validation is logged to Errors and does not replace the
// previous Config — a bad edit never takes a running engine down.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	OnChange func(*Config)
	Errors   func(error)
}

// Watch starts watching path's containing directory (some filesystems
// don't support watching a single file directly) and calls w.OnChange on
// every debounced write or create event targeting path. It runs until ctx
// is canceled.
func Watch(ctx context.Context, path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to resolve path %s: %w", path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("config: failed to watch directory %s: %w", dir, err)
	}

	w := &Watcher{path: absPath, watcher: fsWatcher, OnChange: onChange, Errors: onError}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.watcher.Close()

	fileName := filepath.Base(w.path)
	var debounce *time.Timer

	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			if w.Errors != nil {
				w.Errors(err)
			}
			return
		}
		if w.OnChange != nil {
			w.OnChange(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.Errors != nil {
				w.Errors(err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
