package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/resily/resily/pkg/logger"
)

// Manager handles configuration with atomic updates and hot-reload support.
type Manager struct {
	Service     Service
	current     atomic.Value // stores *Config
	sources     []Source
	callbacks   []func(*Config)
	callbackMu  sync.RWMutex
	reloadMu    sync.Mutex
	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
	closeOnce   sync.Once
	debounce    time.Duration
}

// NewManager creates a new configuration manager.
func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{
		Service:  service,
		debounce: 100 * time.Millisecond,
	}
}

// Load loads configuration from sources and starts watching for changes.
func (m *Manager) Load(ctx context.Context, sources ...Source) (*Config, error) {
	m.reloadMu.Lock()
	m.sources = append([]Source(nil), sources...)
	m.reloadMu.Unlock()

	config, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m.applyConfig(config)

	// Watching outlives the Load call, so it runs on a non-canceling
	// derivative of the caller's context.
	if ctx != nil {
		if m.watchCancel != nil {
			m.watchCancel()
		}
		m.watchCtx, m.watchCancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	m.startWatching(sources)

	return config, nil
}

// Get returns the current configuration atomically.
func (m *Manager) Get() *Config {
	val := m.current.Load()
	if val == nil {
		return nil
	}
	config, ok := val.(*Config)
	if !ok {
		return nil
	}
	return config
}

// Reload forces a configuration reload from all sources.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	newConfig, err := m.Service.Load(ctx, m.sources...)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	m.applyConfig(newConfig)
	return nil
}

// SetDebounce sets the debounce duration for file watching.
// Must be called before Load to take effect.
func (m *Manager) SetDebounce(duration time.Duration) {
	m.debounce = duration
}

// OnChange registers a callback to be invoked when configuration changes.
func (m *Manager) OnChange(callback func(*Config)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Close stops watching and releases resources.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		if m.watchCancel != nil {
			m.watchCancel()
		}
		m.watchWg.Wait()

		m.reloadMu.Lock()
		sourcesCopy := append([]Source(nil), m.sources...)
		m.reloadMu.Unlock()
		for _, source := range sourcesCopy {
			if source == nil {
				continue
			}
			if err := source.Close(); err != nil {
				logger.FromContext(ctx).Error("failed to close configuration source", "error", err)
			}
		}
	})
	return nil
}

// startWatching sets up file watching for sources that support it.
func (m *Manager) startWatching(sources []Source) {
	for _, source := range sources {
		if source == nil {
			continue
		}
		src := source
		m.watchWg.Add(1)
		go func() {
			defer m.watchWg.Done()
			ctx := m.watchCtx
			if ctx == nil {
				ctx = context.Background()
			}
			err := src.Watch(ctx, func() {
				if m.debounce > 0 {
					time.Sleep(m.debounce)
				}
				if err := m.Reload(ctx); err != nil {
					logger.FromContext(ctx).Error("failed to reload configuration", "error", err)
				}
			})
			if err != nil {
				logger.FromContext(ctx).Debug("source does not support watching", "error", err)
			}
		}()
	}
}

// applyConfig applies a new configuration atomically and notifies callbacks.
func (m *Manager) applyConfig(config *Config) {
	oldConfig := m.Get()
	m.current.Store(config)

	// Equal configurations produce no change notifications.
	if oldConfig != nil && reflect.DeepEqual(oldConfig, config) {
		return
	}

	m.callbackMu.RLock()
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbackMu.RUnlock()

	for _, callback := range callbacks {
		if callback != nil {
			callback(config)
		}
	}
}
