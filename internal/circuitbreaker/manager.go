package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager hands out one breaker per dependency name.
type Manager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   *logrus.Logger
}

func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker registered under name, creating it from cfg
// on first use. cfg is ignored for existing breakers.
func (m *Manager) GetOrCreate(name string, cfg Config) *CircuitBreaker {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}
	cfg.Name = name
	breaker := New(cfg, m.logger)
	m.breakers[name] = breaker

	m.logger.WithFields(logrus.Fields{
		"circuit_breaker": name,
		"max_failures":    breaker.cfg.MaxFailures,
		"timeout":         breaker.cfg.Timeout.String(),
		"max_requests":    breaker.cfg.MaxRequests,
	}).Info("Circuit breaker created")
	return breaker
}

func (m *Manager) Get(name string) *CircuitBreaker {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.breakers[name]
}

// Stats returns every breaker's snapshot ordered by name.
func (m *Manager) Stats() []Stats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		out = append(out, breaker.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AnyOpen reports whether some dependency is currently short-circuited.
func (m *Manager) AnyOpen() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, breaker := range m.breakers {
		if breaker.State() == StateOpen {
			return true
		}
	}
	return false
}
