package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/metric"
	"github.com/c360/slotbus/pkg/worker"
)

// Slot is a named callable that runs on the worker it is bound to. The wrapped
// function may take a leading context.Context and may return a value, an error, or
// a value and an error.
type Slot struct {
	key        string
	fn         reflect.Value
	sig        Signature
	takesCtx   bool
	returnsErr bool

	mu           sync.RWMutex
	worker       *worker.Worker
	stopListener func()
	conns        map[*Connection]struct{}
	metrics      *metric.Metrics
}

// NewSlot wraps fn as a slot named key
func NewSlot(key string, fn any) (*Slot, error) {
	v, sig, takesCtx, returnsErr, err := inspect(fn)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Slot", "NewSlot", "inspect "+key)
	}
	return &Slot{
		key:        key,
		fn:         v,
		sig:        sig,
		takesCtx:   takesCtx,
		returnsErr: returnsErr,
		conns:      make(map[*Connection]struct{}),
	}, nil
}

// MustSlot is NewSlot that panics on an invalid function. Intended for static
// slot tables.
func MustSlot(key string, fn any) *Slot {
	s, err := NewSlot(key, fn)
	if err != nil {
		panic(err)
	}
	return s
}

// Key returns the slot name
func (s *Slot) Key() string { return s.key }

// Signature returns the parameter types, excluding a leading context
func (s *Slot) Signature() Signature { return s.sig }

// Arity returns the number of signal arguments the slot consumes
func (s *Slot) Arity() int { return len(s.sig) }

// SetMetrics attaches core runtime metrics
func (s *Slot) SetMetrics(m *metric.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Worker returns the bound worker, or nil
func (s *Slot) Worker() *worker.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker
}

// SetWorker binds the slot to w. When w stops, every connection to this slot is
// disconnected.
func (s *Slot) SetWorker(w *worker.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker == w {
		return
	}
	if s.stopListener != nil {
		s.stopListener()
		s.stopListener = nil
	}
	s.worker = w
	if w != nil {
		s.stopListener = w.OnStop(s.DisconnectAll)
	}
}

// DisconnectAll removes every connection that targets this slot
func (s *Slot) DisconnectAll() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.Disconnect()
	}
}

// NumConnections returns how many signals are connected to this slot
func (s *Slot) NumConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Slot) track(c *Connection) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Slot) untrack(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Run invokes the slot on the calling goroutine and discards any value.
func (s *Slot) Run(ctx context.Context, args ...any) error {
	_, err := s.invoke(ctx, args)
	return err
}

// Call invokes the slot on the calling goroutine and returns its value.
func (s *Slot) Call(ctx context.Context, args ...any) (any, error) {
	return s.invoke(ctx, args)
}

// AsyncRun posts the invocation on the slot worker. The task resolves with the
// slot error.
func (s *Slot) AsyncRun(args ...any) *worker.Task {
	return s.post(args, false)
}

// AsyncCall posts the invocation on the slot worker. The task result carries the
// slot value.
func (s *Slot) AsyncCall(args ...any) *worker.Task {
	return s.post(args, true)
}

func (s *Slot) post(args []any, keepValue bool) *worker.Task {
	w := s.Worker()
	if w == nil {
		return worker.Failed(errors.WrapInvalid(
			fmt.Errorf("%w: slot %q", errors.ErrNoWorker, s.key), "Slot", "Async", "post invocation"))
	}
	if err := s.checkArgs(args); err != nil {
		return worker.Failed(err)
	}

	return w.PostValue(func(ctx context.Context) (any, error) {
		v, err := s.invoke(ctx, args)
		if !keepValue {
			v = nil
		}
		return v, err
	})
}

// checkArgs validates the arguments the slot consumes. Extra arguments are allowed
// and dropped.
func (s *Slot) checkArgs(args []any) error {
	if len(args) < len(s.sig) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: slot %q takes %d arguments %s, got %d",
				errors.ErrSignatureMismatch, s.key, len(s.sig), s.sig, len(args)),
			"Slot", "Invoke", "argument check")
	}
	for i, param := range s.sig {
		if _, err := convert(args[i], param); err != nil {
			return errors.WrapInvalid(fmt.Errorf("slot %q argument %d: %w", s.key, i, err),
				"Slot", "Invoke", "argument check")
		}
	}
	return nil
}

func (s *Slot) invoke(ctx context.Context, args []any) (result any, err error) {
	if err := s.checkArgs(args); err != nil {
		return nil, err
	}

	in := make([]reflect.Value, 0, len(s.sig)+1)
	if s.takesCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, param := range s.sig {
		v, _ := convert(args[i], param)
		in = append(in, v)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in slot %q: %v", s.key, r)
		}
		s.mu.RLock()
		m := s.metrics
		s.mu.RUnlock()
		if m != nil {
			m.RecordSlotInvocation(s.key, err)
		}
	}()

	out := s.fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if s.returnsErr {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		return out[0].Interface(), asError(out[1])
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
