package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is invoked with the newly-loaded config after a debounced
// file change.
type ChangeCallback func(newCfg *Config)

// Logger is the minimal interface the reloader logs through. The zap-based
// logger.Logger does not satisfy it directly (its methods take zap.Field),
// so callers wrap it in a small adapter; this keeps config dependency-free
// of the logging stack.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type noopLogger struct{}

func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

// Reloader watches a config file for changes and hot-reloads it, debouncing
// rapid successive writes (editors often write atomically via rename, which
// fires multiple fs events for one logical change).
type Reloader struct {
	configPath string
	config     *Config
	mu         sync.RWMutex

	watcher   *fsnotify.Watcher
	callbacks []ChangeCallback
	cbMu      sync.RWMutex

	debounceTimer *time.Timer
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger Logger
}

// NewReloader creates a reloader for the config file at configPath.
func NewReloader(configPath string) *Reloader {
	return &Reloader{
		configPath:    configPath,
		callbacks:     make([]ChangeCallback, 0),
		debounceDelay: time.Second,
		logger:        noopLogger{},
	}
}

// SetLogger installs a custom logger.
func (r *Reloader) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// OnChange registers a callback fired after every successful reload.
func (r *Reloader) OnChange(cb ChangeCallback) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// GetConfig returns the current config.
func (r *Reloader) GetConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Load performs the initial synchronous load.
func (r *Reloader) Load() error {
	cfg, err := LoadFromFile(r.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.mu.Lock()
	r.config = cfg
	r.mu.Unlock()
	r.logger.Info("config_loaded", "path", r.configPath)
	return nil
}

// Start loads the config and begins watching for changes in the background.
func (r *Reloader) Start() error {
	if r.ctx != nil {
		return fmt.Errorf("reloader already started")
	}
	if err := r.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	r.watcher = watcher

	dir := filepath.Dir(r.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	if _, err := os.Stat(r.configPath); err == nil {
		if err := watcher.Add(r.configPath); err != nil {
			r.logger.Error("failed_to_watch_file", "path", r.configPath, "error", err)
		}
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.watch()
	r.logger.Info("config_reloader_started", "path", r.configPath)
	return nil
}

// Stop halts the watch loop and releases the underlying watcher.
func (r *Reloader) Stop() error {
	if r.ctx == nil {
		return nil
	}
	r.cancel()
	r.wg.Wait()
	err := r.watcher.Close()
	r.ctx = nil
	r.logger.Info("config_reloader_stopped")
	return err
}

func (r *Reloader) watch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(r.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.logger.Info("config_file_changed", "op", event.Op.String())
				r.triggerReload()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("watcher_error", "error", err)
		}
	}
}

func (r *Reloader) triggerReload() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounceDelay, r.reload)
}

func (r *Reloader) reload() {
	newCfg, err := LoadFromFile(r.configPath)
	if err != nil {
		r.logger.Error("config_reload_failed", "error", err)
		return
	}

	r.mu.Lock()
	old := r.config
	r.config = newCfg
	r.mu.Unlock()

	r.logger.Info("config_reloaded", "path", r.configPath)
	r.notifyCallbacks(newCfg, old)
}

func (r *Reloader) notifyCallbacks(newCfg, oldCfg *Config) {
	r.cbMu.RLock()
	defer r.cbMu.RUnlock()
	for _, cb := range r.callbacks {
		cb(newCfg)
	}
	_ = oldCfg
}
