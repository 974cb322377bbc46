package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher live-reloads decay and budget constants from config.yaml,
// swapping in a freshly parsed Config on every write event. Readers get
// the current snapshot through Current(); an unparseable rewrite is
// logged and ignored, leaving the previous snapshot in place.
type Watcher struct {
	mu      sync.Mutex
	current atomic.Pointer[Config]
	logger  *zap.Logger
}

// NewWatcher starts watching the config file that backs v for changes,
// applying successful reparses to an initial snapshot. The returned
// Watcher owns no goroutine once v has no configured file: fsnotify.Add is
// simply skipped.
func NewWatcher(v *viper.Viper, initial *Config, logger *zap.Logger) *Watcher {
	w := &Watcher{logger: logger}
	w.current.Store(initial)

	v.OnConfigChange(func(fsnotify.Event) {
		w.mu.Lock()
		defer w.mu.Unlock()

		cfg := defaultConfig()
		if err := v.Unmarshal(cfg); err != nil {
			w.logger.Warn("config reload failed, keeping previous values", zap.Error(err))
			return
		}
		w.current.Store(cfg)
		w.logger.Info("config reloaded")
	})
	v.WatchConfig()

	return w
}

// Current returns the latest successfully parsed Config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}
