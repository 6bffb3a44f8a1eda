package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ReloadCallback receives a freshly loaded and validated config
type ReloadCallback func(cfg *Config) error

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Path               string
	StabilityThreshold time.Duration
	OnReload           ReloadCallback
	Logger             *zerolog.Logger
}

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	watcher            *fsnotify.Watcher
	path               string
	stabilityThreshold time.Duration
	onReload           ReloadCallback
	logger             zerolog.Logger

	done      chan struct{}
	debounce  *time.Timer
	debounceM sync.Mutex
	stopOnce  sync.Once
}

// NewWatcher creates a new config watcher
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if cfg.OnReload == nil {
		return nil, fmt.Errorf("reload callback is required")
	}
	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 250 * time.Millisecond
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:            watcher,
		path:               filepath.Clean(cfg.Path),
		stabilityThreshold: cfg.StabilityThreshold,
		onReload:           cfg.OnReload,
		logger:             logger.With().Str("component", "config-watcher").Logger(),
		done:               make(chan struct{}),
	}, nil
}

// Start starts watching. The parent directory is watched so that
// editors which replace the file by rename are still observed.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.path).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceM.Lock()
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.debounceM.Unlock()

		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
		w.logger.Info().Msg("Config watcher stopped")
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

// schedule debounces bursts of writes into a single reload
func (w *Watcher) schedule() {
	w.debounceM.Lock()
	defer w.debounceM.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.stabilityThreshold, func() {
		select {
		case <-w.done:
			return
		default:
			w.reload()
		}
	})
}

func (w *Watcher) reload() {
	cfg, err := NewLoader(w.path).Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload config, keeping current settings")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error().Err(err).Msg("Reloaded config is invalid, keeping current settings")
		return
	}

	if err := w.onReload(cfg); err != nil {
		w.logger.Error().Err(err).Msg("Failed to apply reloaded config")
		return
	}
	w.logger.Info().Str("path", w.path).Msg("Config reloaded")
}
