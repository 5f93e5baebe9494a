package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"propmock/internal/platform/logging"
)

// Watcher reloads the config file whenever it changes on disk and hands the
// fresh configuration to onChange. Invalid edits are logged and skipped.
type Watcher struct {
	loader   *Loader
	path     string
	onChange func(*Config)
	logger   logging.Interface
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher watches the directory containing the loader's file so that
// editors replacing the file atomically are still observed.
func NewWatcher(loader *Loader, onChange func(*Config), logger logging.Interface) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path, err := filepath.Abs(loader.Path())
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		loader:   loader,
		path:     path,
		onChange: onChange,
		logger:   logger,
		watcher:  fw,
		debounce: 100 * time.Millisecond,
	}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	res, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload skipped: %v", err)
		return
	}
	w.logger.Info("config reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(res.Config)
	}
}
