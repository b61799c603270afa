// Package objects implements the object registry: the table through which services
// publish and resolve shared data objects by id.
package objects

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
)

// Signal keys exposed by the registry
const (
	// SignalAdded is emitted with (id string, obj data.Object) after an object is added
	SignalAdded = "added"
	// SignalRemoved is emitted with (id string) after an object is removed
	SignalRemoved = "removed"
)

// Registry maps object ids to objects. It is owned by the application context;
// there is no process-wide instance.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	objects map[string]data.Object

	signals *dispatch.Signals
	added   *dispatch.Signal
	removed *dispatch.Signal
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	signals := dispatch.NewSignals()
	added, _ := signals.Declare(SignalAdded, dispatch.TypeOf[string](), dispatch.TypeOf[data.Object]())
	removed, _ := signals.Declare(SignalRemoved, dispatch.TypeOf[string]())
	signals.SetLogger(logger)

	return &Registry{
		logger:  logger.With("component", "objects"),
		objects: make(map[string]data.Object),
		signals: signals,
		added:   added,
		removed: removed,
	}
}

// Signals returns the registry signal table
func (r *Registry) Signals() *dispatch.Signals { return r.signals }

// Added returns the signal emitted after an object is added
func (r *Registry) Added() *dispatch.Signal { return r.added }

// Removed returns the signal emitted after an object is removed
func (r *Registry) Removed() *dispatch.Signal { return r.removed }

// Add publishes obj under its id. Adding the same object again is a no-op; adding a
// different object under a taken id fails with ErrAlreadyRegistered.
func (r *Registry) Add(obj data.Object) error {
	if obj == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil object", errors.ErrTypeMismatch),
			"Registry", "Add", "object registration")
	}

	id := obj.ID()
	r.mu.Lock()
	if existing, ok := r.objects[id]; ok {
		r.mu.Unlock()
		if existing == obj {
			return nil
		}
		return errors.WrapInvalid(fmt.Errorf("%w: object %q", errors.ErrAlreadyRegistered, id),
			"Registry", "Add", "object registration")
	}
	r.objects[id] = obj
	r.mu.Unlock()

	r.logger.Debug("object added", "id", id)
	if err := r.added.AsyncEmit(id, obj); err != nil {
		r.logger.Warn("object added notification incomplete", "id", id, "error", err)
	}
	return nil
}

// Remove drops the object registered under id. It reports whether an object was
// removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.objects[id]
	delete(r.objects, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Debug("object removed", "id", id)
	if err := r.removed.AsyncEmit(id); err != nil {
		r.logger.Warn("object removed notification incomplete", "id", id, "error", err)
	}
	return true
}

// RemoveObject drops obj only if it is the object currently registered under its id
func (r *Registry) RemoveObject(obj data.Object) bool {
	if obj == nil {
		return false
	}
	r.mu.RLock()
	current, ok := r.objects[obj.ID()]
	r.mu.RUnlock()
	if !ok || current != obj {
		return false
	}
	return r.Remove(obj.ID())
}

// Lookup returns the object registered under id
func (r *Registry) Lookup(id string) (data.Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[id]
	return obj, ok
}

// Get returns the object registered under id or ErrUnknownKey
func (r *Registry) Get(id string) (data.Object, error) {
	obj, ok := r.Lookup(id)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: object %q", errors.ErrUnknownKey, id),
			"Registry", "Get", "object lookup")
	}
	return obj, nil
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// IDs returns every registered id, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered objects
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Clear removes every object, emitting removed for each
func (r *Registry) Clear() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}
