package service

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/c360/slotbus/errors"
)

// Registry holds service factories by type name and live service instances by id.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	services  map[string]Service
	order     []string
}

// NewRegistry creates an empty service registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		services:  make(map[string]Service),
	}
}

// RegisterFactory registers the factory for a service type
func (r *Registry) RegisterFactory(typ string, factory Factory) error {
	if typ == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: empty service type", errors.ErrConfiguration),
			"Registry", "RegisterFactory", "register factory")
	}
	if factory == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil factory for %q", errors.ErrConfiguration, typ),
			"Registry", "RegisterFactory", "register factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: service type %q", errors.ErrAlreadyRegistered, typ),
			"Registry", "RegisterFactory", "register factory")
	}
	r.factories[typ] = factory
	return nil
}

// Factory returns the factory registered for typ
func (r *Registry) Factory(typ string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	return f, ok
}

// Factories returns a copy of all factories
func (r *Registry) Factories() map[string]Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f := make(map[string]Factory, len(r.factories))
	maps.Copy(f, r.factories)
	return f
}

// Types returns the registered type names, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Create builds a service of type typ with the given id and adds it to the registry.
func (r *Registry) Create(typ, id string, deps Dependencies, opts ...Option) (Service, error) {
	factory, ok := r.Factory(typ)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: service type %q", errors.ErrUnknownKey, typ),
			"Registry", "Create", "lookup factory")
	}

	opts = append(slices.Clone(opts), WithID(id), WithType(typ))
	svc, err := factory(deps, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "construct "+typ)
	}
	if err := r.Add(svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// Add registers a live service instance
func (r *Registry) Add(svc Service) error {
	if svc == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil service", errors.ErrConfiguration),
			"Registry", "Add", "register service")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := svc.ID()
	if _, exists := r.services[id]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: service %q", errors.ErrAlreadyRegistered, id),
			"Registry", "Add", "register service")
	}
	r.services[id] = svc
	r.order = append(r.order, id)
	return nil
}

// Get returns the service with the given id
func (r *Registry) Get(id string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[id]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: service %q", errors.ErrUnknownKey, id),
			"Registry", "Get", "lookup service")
	}
	return svc, nil
}

// Remove drops a service instance. It does not stop or destroy it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[id]; !ok {
		return false
	}
	delete(r.services, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return true
}

// ByType returns the instances of typ in registration order
func (r *Registry) ByType(typ string) []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Service
	for _, id := range r.order {
		if svc := r.services[id]; svc.Type() == typ {
			out = append(out, svc)
		}
	}
	return out
}

// Services returns all instances in registration order
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

// IDs returns the instance ids in registration order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of instances
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
