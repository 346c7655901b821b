package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Manager owns one breaker per backend routing key. Breakers are created on
// first use with the manager's config and are fully independent of each
// other.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates a breaker manager. Every breaker it creates shares cfg.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker for the named backend, creating a closed
// one on first access.
func (m *Manager) GetOrCreate(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()

	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok = m.breakers[name]; ok {
		return b
	}

	b = New(name, m.cfg, m.logger)
	m.breakers[name] = b
	m.logger.Debug("created circuit breaker", zap.String("backend", name))

	return b
}

// CanExecute reports whether a call to the named backend would be allowed.
// Unknown backends are allowed: their breaker starts closed.
func (m *Manager) CanExecute(name string) bool {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()

	if !ok {
		return true
	}

	return b.CanExecute()
}

// Snapshots returns a consistent per-backend view of all breakers.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Snapshot()
	}

	return out
}
