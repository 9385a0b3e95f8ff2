package config

import (
	"sync"
	"sync/atomic"
)

// Manager holds the current configuration and supports live reload. A signal
// handler calls MarkReloadPending; the monitor loop calls ReloadIfPending
// once at the top of each cycle, so a reload never lands mid-cycle.
type Manager struct {
	mu       sync.RWMutex
	path     string
	current  *Config
	override func(*Config) error
	pending  atomic.Bool
}

// NewManager creates a Manager serving the given config. If path is empty,
// reload re-applies defaults plus environment overrides instead of re-reading
// a file.
func NewManager(path string, cfg *Config) *Manager {
	return &Manager{
		path:    path,
		current: cfg,
	}
}

// Current returns the active configuration.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetOverride registers a function re-applied to every freshly loaded config
// before it becomes active. Startup flag overrides live here; without this a
// reload would silently revert them to the file or default values.
func (m *Manager) SetOverride(fn func(*Config) error) {
	m.mu.Lock()
	m.override = fn
	m.mu.Unlock()
}

// MarkReloadPending requests a reload before the next cycle. Safe to call
// from signal handlers and concurrent goroutines.
func (m *Manager) MarkReloadPending() {
	m.pending.Store(true)
}

// ReloadIfPending re-reads the config if a reload was requested since the
// last call. Returns the active config and whether a reload happened. A
// failed reload keeps the previous config and reports the error; the pending
// flag is consumed either way.
func (m *Manager) ReloadIfPending() (*Config, bool, error) {
	if !m.pending.Swap(false) {
		return m.Current(), false, nil
	}

	var (
		cfg *Config
		err error
	)
	if m.path != "" {
		cfg, err = LoadFromPath(m.path)
	} else {
		cfg, err = Load()
	}
	if err != nil {
		return m.Current(), false, err
	}

	m.mu.RLock()
	override := m.override
	m.mu.RUnlock()
	if override != nil {
		if err := override(cfg); err != nil {
			return m.Current(), false, err
		}
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return cfg, true, nil
}
