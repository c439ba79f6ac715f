package config

import (
	"context"
	"sync"

	"github.com/resily/resily/pkg/logger"
)

// ContextKey is an alias used for storing values in context.
type ContextKey string

// ManagerCtxKey is the context key used to store the *Manager instance.
const ManagerCtxKey ContextKey = "config_manager"

// ContextWithManager stores the configuration manager in the context.
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, ManagerCtxKey, m)
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// ManagerFromContext retrieves the configuration manager from the context.
// If none is found, it falls back to a lazily initialized default manager
// loaded from defaults and environment variables, mirroring the logger
// package behavior.
func ManagerFromContext(ctx context.Context) *Manager {
	if ctx != nil {
		if m, ok := ctx.Value(ManagerCtxKey).(*Manager); ok && m != nil {
			return m
		}
	}
	return getDefaultManager(ctx)
}

// FromContext returns the active configuration for the provided context.
func FromContext(ctx context.Context) *Config {
	m := ManagerFromContext(ctx)
	if m == nil {
		return nil
	}
	return m.Get()
}

// getDefaultManager returns a singleton manager initialized with built-in
// defaults and environment overrides. YAML and CLI sources are not applied
// here; callers that need them must construct a Manager and attach it to
// the context explicitly.
func getDefaultManager(ctx context.Context) *Manager {
	defaultManagerOnce.Do(func() {
		m := NewManager(NewService())
		if _, err := m.Load(ctx, NewDefaultProvider(), NewEnvProvider()); err != nil {
			logger.FromContext(ctx).Warn("failed to load default configuration, using fallback defaults", "error", err)
		}
		defaultManager = m
	})
	return defaultManager
}
