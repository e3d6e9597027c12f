package scanguard

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce batches the burst of events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// ConfigWatcher reloads the config file when it changes and swaps the
// guard's allowlist. Other sections need a restart.
type ConfigWatcher struct {
	path     string
	guard    *Guard
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	onReload func(*Config)

	mu    sync.Mutex
	timer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// NewConfigWatcher watches the directory holding path so that atomic
// rename-on-save is seen too. onReload may be nil.
func NewConfigWatcher(path string, guard *Guard, logger *slog.Logger, onReload func(*Config)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	return &ConfigWatcher{
		path:     abs,
		guard:    guard,
		watcher:  w,
		logger:   componentLogger(logger, "config_watcher"),
		onReload: onReload,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

func (cw *ConfigWatcher) Start() {
	go cw.eventLoop()
}

// Close stops the watcher. No reload runs after Close returns.
func (cw *ConfigWatcher) Close() error {
	close(cw.done)
	err := cw.watcher.Close()
	<-cw.stopped
	cw.mu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.mu.Unlock()
	return err
}

func (cw *ConfigWatcher) eventLoop() {
	defer close(cw.stopped)
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cw.schedule()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("config_watch_error", "error", err)
		}
	}
}

func (cw *ConfigWatcher) schedule() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(reloadDebounce, cw.Reload)
}

// Reload reads the file now. A file that fails to load or validate leaves
// the running configuration untouched.
func (cw *ConfigWatcher) Reload() {
	select {
	case <-cw.done:
		return
	default:
	}
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		cw.logger.Error("config_reload_failed", "path", cw.path, "error", err)
		return
	}
	cw.guard.SetAllowlist(NewAllowlist(cfg.Allowlist))
	cw.logger.Info("config_reloaded",
		"path", cw.path,
		"allow_paths", len(cfg.Allowlist.Paths),
		"allow_prefixes", len(cfg.Allowlist.Prefixes))
	if cw.onReload != nil {
		cw.onReload(cfg)
	}
}
