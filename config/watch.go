package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	w    *fsnotify.Watcher
	path string
	log  *slog.Logger
}

// NewWatcher starts watching path. The parent directory is watched so that
// editors which replace the file through a rename are followed.
func NewWatcher(path string, log *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	return &Watcher{w: w, path: abs, log: log}, nil
}

// Run hands every successfully reloaded Config to fn until ctx ends. A file
// that fails to load or validate is logged and skipped; the previous
// configuration stays in effect. Run closes the watcher when it returns.
func (cw *Watcher) Run(ctx context.Context, fn func(Config)) {
	defer func() { _ = cw.w.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(cw.path)
			if err != nil {
				cw.log.WarnContext(ctx, "config.reload.err", slog.String("path", cw.path), slog.String("err", err.Error()))
				continue
			}
			cw.log.InfoContext(ctx, "config.reload", slog.String("path", cw.path))
			fn(cfg)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.log.DebugContext(ctx, "config.watch.err", slog.String("err", err.Error()))
		}
	}
}
