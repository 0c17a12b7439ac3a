package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// ConfigCallback receives each configuration that loads and validates
// successfully after a file change.
type ConfigCallback func(*Config)

// ErrorCallback receives reload failures. The previous configuration
// stays in effect.
type ErrorCallback func(error)

// Watcher reloads the configuration file on change. Events are
// debounced, every candidate is validated before it is surfaced, and a
// failed reload never replaces the last good configuration.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	callback ConfigCallback
	onError  ErrorCallback
	logger   observability.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current *Config
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long after the last file event the reload
// runs.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the reload failure callback.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.onError = callback
	}
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(path string, callback ConfigCallback, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		fs:       fs,
		callback: callback,
		logger:   observability.NopLogger(),
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// load reads the file and validates the result.
func (w *Watcher) load() (*Config, error) {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (w *Watcher) store(cfg *Config) {
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
}

// Start loads the configuration once, failing fast on a broken file,
// then begins watching. The directory is watched rather than the file
// itself: editors and orchestrators replace the file, which would
// otherwise drop the watch.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	cfg, err := w.load()
	if err != nil {
		w.setStopped()
		return err
	}
	w.store(cfg)

	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		w.setStopped()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()
	go w.run(runCtx)

	w.logger.Info("watching configuration file",
		observability.String("path", w.path),
	)
	return nil
}

func (w *Watcher) setStopped() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Stop cancels the watch loop and releases the file watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	return w.fs.Close()
}

// GetLastConfig returns the last configuration that loaded and
// validated successfully.
func (w *Watcher) GetLastConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ForceReload loads the file immediately, bypassing the debounce. On
// success the callback fires as for a watched change.
func (w *Watcher) ForceReload() error {
	cfg, err := w.load()
	if err != nil {
		return err
	}
	w.store(cfg)
	if w.callback != nil {
		w.callback(cfg)
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	// One reusable debounce timer, parked until the first event.
	timer := time.NewTimer(w.debounce)
	drainTimer(timer)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path ||
				event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug("config file changed",
				observability.String("op", event.Op.String()),
			)
			drainTimer(timer)
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", observability.Error(err))
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// drainTimer stops the timer and empties its channel so Reset arms a
// clean timer.
func drainTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration",
			observability.String("path", w.path),
			observability.Error(err),
		)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.store(cfg)
	w.logger.Info("configuration reloaded",
		observability.String("path", w.path),
	)
	if w.callback != nil {
		w.callback(cfg)
	}
}
