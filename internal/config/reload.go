package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and hands every valid new config to
// onChange. Invalid edits are logged and ignored.
type Reloader struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(*Config)
	logger   *zap.Logger
}

// NewReloader creates a file watcher for path. A path that does not exist
// yet is not watched.
func NewReloader(path string, onChange func(*Config), logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("NewReloader: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := watcher.Add(path); err != nil {
				_ = watcher.Close()
				return nil, fmt.Errorf("NewReloader: watch %q: %w", path, err)
			}
		}
	}
	return &Reloader{
		watcher:  watcher,
		path:     path,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Reload loads, overlays the environment, validates and applies the file.
func (r *Reloader) Reload() error {
	cfg, err := Load(r.path)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.onChange(cfg)
	return nil
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer func() { _ = r.watcher.Close() }()

	// Debounce: wait after the last write before reloading.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := r.Reload(); err != nil {
						r.logger.Warn("config hot-reload failed", zap.String("path", r.path), zap.Error(err))
						return
					}
					r.logger.Info("config reloaded", zap.String("path", r.path))
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
