package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the event bursts editors produce when saving.
const debounceDelay = 250 * time.Millisecond

// Watcher reloads the config file when it changes and applies the runtime
// fields (target_url, max_connections) to the live view. Everything else in
// the file still requires a restart. The parent directory is watched rather
// than the file itself so atomic saves (rename + create) are seen too.
type Watcher struct {
	cli    *CLI
	rt     *Runtime
	logger *slog.Logger
	fw     *fsnotify.Watcher
	base   string
	dir    string

	mu      sync.Mutex
	pending *time.Timer
}

// NewWatcher prepares a watcher for the file cfg was loaded from. The caller
// should only construct one when watching is enabled and a file was used.
func NewWatcher(cli *CLI, cfg *Config, rt *Runtime, logger *slog.Logger) (*Watcher, error) {
	if cfg.Path() == "" {
		return nil, fmt.Errorf("config watcher: no config file to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	return &Watcher{
		cli:    cli,
		rt:     rt,
		logger: logger.With("component", "config_watcher"),
		fw:     fw,
		base:   filepath.Base(cfg.Path()),
		dir:    filepath.Dir(cfg.Path()),
	}, nil
}

// Start begins watching. It returns once the watch is registered; events are
// handled on a background goroutine until Stop.
func (w *Watcher) Start() error {
	if err := w.fw.Add(w.dir); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", w.dir, err)
	}
	go w.loop()
	w.logger.Info("watching config file", "path", filepath.Join(w.dir, w.base))
	return nil
}

// Stop ends the watch and cancels any pending reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return w.fw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != w.base {
				continue
			}
			w.schedule()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "err", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(debounceDelay, w.reload)
}

// reload re-runs the full load so CLI and environment overrides keep their
// precedence, then applies the runtime fields. A file that no longer parses
// or validates is logged and skipped; the previous values stay in effect.
func (w *Watcher) reload() {
	cfg, err := Load(w.cli)
	if err != nil {
		w.logger.Warn("config reload skipped", "err", err)
		return
	}
	w.rt.SetTargetURL(cfg.Upstream.TargetURL)
	w.rt.SetMaxConnections(cfg.Upstream.MaxConnections)
	w.logger.Info("config reloaded",
		"target_url", cfg.Upstream.TargetURL,
		"max_connections", cfg.Upstream.MaxConnections,
	)
}
