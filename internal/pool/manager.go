package pool

import (
	"sync"

	"github.com/brainzlab/vision/pkg/logger"
)

// Manager hands out the Pool for a given capture profile key, creating it
// lazily on first use. Every BrowserConfig with a distinct Key() gets its
// own independent Pool and so its own MaxWorkers budget.
type Manager struct {
	config Config
	log    *logger.Logger

	mu    sync.Mutex
	pools map[string]*Pool
}

func NewManager(config Config, log *logger.Logger) *Manager {
	return &Manager{
		config: config,
		log:    log,
		pools:  make(map[string]*Pool),
	}
}

// ForKey returns the pool for a capture profile key, creating and warming
// it up if this is the first request for that key.
func (m *Manager) ForKey(key string) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[key]; ok {
		return p
	}
	p := New(key, m.config, m.log)
	m.pools[key] = p
	return p
}

// Metrics aggregates every keyed pool's metrics, added field-by-field.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total Metrics
	for _, p := range m.pools {
		pm := p.Metrics()
		total.TotalCreated += pm.TotalCreated
		total.TotalDestroyed += pm.TotalDestroyed
		total.TotalReused += pm.TotalReused
		total.CheckoutWaits += pm.CheckoutWaits
		total.ResetErrors += pm.ResetErrors
		total.CurrentActive += pm.CurrentActive
		total.CurrentIdle += pm.CurrentIdle
	}
	return total
}

// Close shuts down every keyed pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pools {
		_ = p.Close()
	}
	return nil
}
