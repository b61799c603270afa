package dispatch

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/metric"
	"github.com/c360/slotbus/pkg/worker"
)

// Signals is the runtime table mapping keys to the signals an owner exposes.
type Signals struct {
	mu    sync.RWMutex
	byKey map[string]*Signal
	order []string
}

// NewSignals creates an empty signal table
func NewSignals() *Signals {
	return &Signals{byKey: make(map[string]*Signal)}
}

// Add registers sig under its key
func (t *Signals) Add(sig *Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byKey[sig.Key()]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: signal %q", errors.ErrAlreadyRegistered, sig.Key()),
			"Signals", "Add", "signal registration")
	}
	t.byKey[sig.Key()] = sig
	t.order = append(t.order, sig.Key())
	return nil
}

// Declare creates a signal with the given argument types and registers it
func (t *Signals) Declare(key string, types ...reflect.Type) (*Signal, error) {
	sig := NewSignal(key, types...)
	if err := t.Add(sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// Get returns the signal registered under key
func (t *Signals) Get(key string) (*Signal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sig, ok := t.byKey[key]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: signal %q", errors.ErrUnknownKey, key),
			"Signals", "Get", "signal lookup")
	}
	return sig, nil
}

// Keys returns the registered keys in registration order
func (t *Signals) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, len(t.order))
	copy(keys, t.order)
	return keys
}

// SetMetrics attaches core metrics to every registered signal
func (t *Signals) SetMetrics(m *metric.Metrics) {
	for _, sig := range t.all() {
		sig.SetMetrics(m)
	}
}

// SetLogger sets the logger of every registered signal
func (t *Signals) SetLogger(logger *slog.Logger) {
	for _, sig := range t.all() {
		sig.SetLogger(logger)
	}
}

// DisconnectAll drops every connection of every registered signal
func (t *Signals) DisconnectAll() {
	for _, sig := range t.all() {
		sig.DisconnectAll()
	}
}

func (t *Signals) all() []*Signal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Signal, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.byKey[key])
	}
	return out
}

// Slots is the runtime table mapping keys to the slots an owner exposes.
type Slots struct {
	mu    sync.RWMutex
	byKey map[string]*Slot
	order []string
}

// NewSlots creates an empty slot table
func NewSlots() *Slots {
	return &Slots{byKey: make(map[string]*Slot)}
}

// Add registers slot under its key
func (t *Slots) Add(slot *Slot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byKey[slot.Key()]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: slot %q", errors.ErrAlreadyRegistered, slot.Key()),
			"Slots", "Add", "slot registration")
	}
	t.byKey[slot.Key()] = slot
	t.order = append(t.order, slot.Key())
	return nil
}

// Declare wraps fn as a slot and registers it
func (t *Slots) Declare(key string, fn any) (*Slot, error) {
	slot, err := NewSlot(key, fn)
	if err != nil {
		return nil, err
	}
	if err := t.Add(slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// Get returns the slot registered under key
func (t *Slots) Get(key string) (*Slot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	slot, ok := t.byKey[key]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: slot %q", errors.ErrUnknownKey, key),
			"Slots", "Get", "slot lookup")
	}
	return slot, nil
}

// Keys returns the registered keys in registration order
func (t *Slots) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, len(t.order))
	copy(keys, t.order)
	return keys
}

// SetWorker binds every registered slot to w
func (t *Slots) SetWorker(w *worker.Worker) {
	for _, slot := range t.all() {
		slot.SetWorker(w)
	}
}

// SetMetrics attaches core metrics to every registered slot
func (t *Slots) SetMetrics(m *metric.Metrics) {
	for _, slot := range t.all() {
		slot.SetMetrics(m)
	}
}

// DisconnectAll drops every connection targeting a registered slot
func (t *Slots) DisconnectAll() {
	for _, slot := range t.all() {
		slot.DisconnectAll()
	}
}

func (t *Slots) all() []*Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Slot, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.byKey[key])
	}
	return out
}
