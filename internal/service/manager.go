package service

import (
	"sync"

	"github.com/wireit-go/wireit/internal/graph"
)

// Manager owns every Service for one executor instance and supports the
// hand-off described in §4.5: the watcher passes the previous run's service
// map to the next executor instance, which adopts any service whose
// fingerprint is unchanged.
type Manager struct {
	mu       sync.Mutex
	services map[string]*Service
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{services: make(map[string]*Service)}
}

// GetOrCreate returns the Service for ref, creating it in StateInitial if
// this is the first time this Manager has seen it.
func (m *Manager) GetOrCreate(ref graph.ScriptReference, cfg *graph.ScriptConfig) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ref.String()
	if svc, ok := m.services[key]; ok {
		return svc
	}
	svc := New(ref, cfg)
	m.services[key] = svc
	return svc
}

// All returns every Service this Manager has created, keyed by reference
// string. The caller must not mutate the returned map.
func (m *Manager) All() map[string]*Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Service, len(m.services))
	for k, v := range m.services {
		out[k] = v
	}
	return out
}

// Adoptee looks up this Manager's Service for ref without creating one,
// returning nil if there is none. Used two ways: the watcher calls this on
// the prior iteration's Manager when constructing the next executor
// iteration (§4.5 "service continuity"), and the executor calls this on
// the current iteration's Manager to find an already-started upstream
// service dependency to monitor for unexpected exit (§4.4's "started -> on
// upstream service exit -> failing").
func (m *Manager) Adoptee(ref graph.ScriptReference) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.services[ref.String()]
}
