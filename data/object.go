// Package data defines the contract of objects services exchange through the
// object registry.
package data

import (
	"sync"

	"github.com/google/uuid"

	"github.com/c360/slotbus/dispatch"
)

// SignalModified is the key of the signal every object emits after a mutation
const SignalModified = "modified"

// Object is a shared piece of data identified by a process-unique id. Objects
// expose signals so services can observe them without knowing their type.
type Object interface {
	ID() string
	Signals() *dispatch.Signals
	Modified() *dispatch.Signal
}

// Base implements Object. Embed it in concrete object types.
type Base struct {
	id       string
	signals  *dispatch.Signals
	modified *dispatch.Signal
}

// NewBase creates a Base. An empty id gets a random UUID.
func NewBase(id string) *Base {
	if id == "" {
		id = uuid.NewString()
	}
	signals := dispatch.NewSignals()
	modified, _ := signals.Declare(SignalModified)
	return &Base{
		id:       id,
		signals:  signals,
		modified: modified,
	}
}

// ID returns the object id
func (b *Base) ID() string { return b.id }

// Signals returns the signal table
func (b *Base) Signals() *dispatch.Signals { return b.signals }

// Modified returns the modification signal
func (b *Base) Modified() *dispatch.Signal { return b.modified }

// NotifyModified asynchronously notifies every observer connected to the modified
// signal.
func (b *Base) NotifyModified() error {
	return b.modified.AsyncEmit()
}

// Value is a generic object holding one value of type T.
type Value[T any] struct {
	*Base

	mu    sync.RWMutex
	value T
}

// NewValue creates a value object
func NewValue[T any](id string, initial T) *Value[T] {
	return &Value[T]{
		Base:  NewBase(id),
		value: initial,
	}
}

// Get returns the current value
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set replaces the value without notifying observers
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
}

// Update replaces the value and emits the modified signal
func (v *Value[T]) Update(value T) error {
	v.Set(value)
	return v.NotifyModified()
}

// Mutate applies fn to the value under the write lock and emits the modified
// signal.
func (v *Value[T]) Mutate(fn func(*T)) error {
	v.mu.Lock()
	fn(&v.value)
	v.mu.Unlock()
	return v.NotifyModified()
}
