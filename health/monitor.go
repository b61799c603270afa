package health

import (
	"slices"
	"sync"
	"time"
)

// Source is anything that can report its own health, such as a service
type Source interface {
	ID() string
	Health() Status
}

// Monitor keeps the latest status per service
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update stores status under name
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// Refresh asks every source for its current health and stores it
func (m *Monitor) Refresh(sources ...Source) {
	for _, src := range sources {
		m.Update(src.ID(), src.Health())
	}
}

// Get returns the last status stored under name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Names lists the monitored services in lexical order
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Remove stops monitoring name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Clear stops monitoring everything
func (m *Monitor) Clear() {
	m.mu.Lock()
	m.statuses = make(map[string]Status)
	m.mu.Unlock()
}

// AggregateHealth folds the stored statuses, ordered by name, into one status
// for systemName
func (m *Monitor) AggregateHealth(systemName string) Status {
	names := m.Names()

	m.mu.RLock()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if status, ok := m.statuses[name]; ok {
			subs = append(subs, status)
		}
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subs)
}
