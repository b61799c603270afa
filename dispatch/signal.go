package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/metric"
)

// Signal is a named broadcast point with a fixed argument signature.
type Signal struct {
	key string
	sig Signature

	mu      sync.RWMutex
	conns   []*Connection
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewSignal creates a signal carrying arguments of the given types
func NewSignal(key string, types ...reflect.Type) *Signal {
	return &Signal{
		key:    key,
		sig:    Signature(types),
		logger: slog.Default(),
	}
}

// Key returns the signal name
func (s *Signal) Key() string { return s.key }

// Signature returns the argument types
func (s *Signal) Signature() Signature { return s.sig }

// SetMetrics attaches core runtime metrics
func (s *Signal) SetMetrics(m *metric.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// SetLogger sets the logger used to report failed asynchronous deliveries
func (s *Signal) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Connect links slot to the signal. The slot must accept a prefix of the signal
// arguments. Connecting the same slot twice fails with ErrAlreadyConnected.
func (s *Signal) Connect(slot *Slot) (*Connection, error) {
	if slot == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil slot", errors.ErrUnknownKey),
			"Signal", "Connect", "connect "+s.key)
	}
	if !s.sig.Accepts(slot.Signature()) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: signal %q %s cannot feed slot %q %s",
				errors.ErrSignatureMismatch, s.key, s.sig, slot.Key(), slot.Signature()),
			"Signal", "Connect", "signature check")
	}

	s.mu.Lock()
	for _, c := range s.conns {
		if c.slot == slot {
			s.mu.Unlock()
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: slot %q on signal %q", errors.ErrAlreadyConnected, slot.Key(), s.key),
				"Signal", "Connect", "duplicate check")
		}
	}
	c := &Connection{signal: s, slot: slot}
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	slot.track(c)
	return c, nil
}

// Disconnect removes the connection to slot. Absent connections are ignored.
func (s *Signal) Disconnect(slot *Slot) {
	if c, ok := s.Connection(slot); ok {
		c.Disconnect()
	}
}

// DisconnectAll removes every connection
func (s *Signal) DisconnectAll() {
	s.mu.RLock()
	conns := make([]*Connection, len(s.conns))
	copy(conns, s.conns)
	s.mu.RUnlock()

	for _, c := range conns {
		c.Disconnect()
	}
}

// Connection returns the live connection to slot, if any
func (s *Signal) Connection(slot *Slot) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		if c.slot == slot {
			return c, true
		}
	}
	return nil, false
}

// NumConnections returns the number of live connections
func (s *Signal) NumConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Signal) remove(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.conns {
		if existing == c {
			s.conns = append(s.conns[:i:i], s.conns[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns the connections in registration order
func (s *Signal) snapshot() ([]*Connection, *metric.Metrics, *slog.Logger) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*Connection, len(s.conns))
	copy(conns, s.conns)
	return conns, s.metrics, s.logger
}

// Emit calls every unblocked connected slot on the calling goroutine, in connection
// order, and returns their errors joined.
func (s *Signal) Emit(ctx context.Context, args ...any) error {
	if err := s.sig.Check(args); err != nil {
		return errors.WrapInvalid(err, "Signal", "Emit", "argument check for "+s.key)
	}

	conns, metrics, _ := s.snapshot()
	if metrics != nil {
		metrics.RecordEmit(s.key, "sync")
	}

	var errs []error
	for _, c := range conns {
		if c.Blocked() || c.Expired() {
			continue
		}
		if err := c.slot.Run(ctx, args...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncEmit posts one invocation per unblocked connected slot onto that slot's
// worker and returns without waiting. Slots without a worker are skipped and
// reported as ErrNoWorker.
func (s *Signal) AsyncEmit(args ...any) error {
	if err := s.sig.Check(args); err != nil {
		return errors.WrapInvalid(err, "Signal", "AsyncEmit", "argument check for "+s.key)
	}

	conns, metrics, logger := s.snapshot()
	if metrics != nil {
		metrics.RecordEmit(s.key, "async")
	}

	var errs []error
	for _, c := range conns {
		c := c
		if c.Blocked() || c.Expired() {
			continue
		}
		slot := c.slot
		w := slot.Worker()
		if w == nil {
			errs = append(errs, fmt.Errorf("%w: slot %q", errors.ErrNoWorker, slot.Key()))
			continue
		}
		w.Post(func(ctx context.Context) error {
			// The connection may have been dropped while the task was queued
			if c.Expired() {
				return nil
			}
			err := slot.Run(ctx, args...)
			if err != nil {
				logger.Warn("slot failed", "signal", s.key, "slot", slot.Key(), "error", err)
			}
			return err
		})
	}
	return errors.Join(errs...)
}
