package service

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/health"
	"github.com/c360/slotbus/metric"
	"github.com/c360/slotbus/objects"
	"github.com/c360/slotbus/pkg/worker"
	"github.com/c360/slotbus/types"
)

// Base carries the state machine, bindings, signals and slots of one service.
// Embed *Base in a concrete service and pass the service as Hooks:
//
//	p := &Producer{}
//	p.Base = service.NewBase(p, deps, service.WithID("producer"))
type Base struct {
	impl      Hooks
	id        string
	typ       string
	schema    string
	autoStart bool

	registry *objects.Registry
	workers  *worker.Registry
	logger   *slog.Logger
	metrics  *metric.Metrics

	status    atomic.Int32
	cfgStatus atomic.Int32
	updStatus atomic.Int32
	pending   atomic.Int32
	destroyed atomic.Bool

	signals *dispatch.Signals
	slots   *dispatch.Slots
	started *dispatch.Signal
	stopped *dispatch.Signal
	updated *dispatch.Signal
	swapped *dispatch.Signal

	mu         sync.RWMutex
	worker     *worker.Worker
	ownsWorker bool
	config     *Config
	tree       *types.ConfigTree
	bindings   map[string]*binding
	order      []string
	autoConns  map[string][]*dispatch.Connection
	tracked    []*dispatch.Connection
	subs       []*dispatch.Connection
	startTime  time.Time
	lastErr    error
	errCount   int
}

// NewBase creates the runtime half of a service. impl receives the lifecycle hooks;
// nil means no hooks.
func NewBase(impl Hooks, deps Dependencies, opts ...Option) *Base {
	if impl == nil {
		impl = NopHooks{}
	}

	b := &Base{
		impl:      impl,
		typ:       fmt.Sprintf("%T", impl),
		registry:  deps.Objects,
		workers:   deps.Workers,
		bindings:  make(map[string]*binding),
		autoConns: make(map[string][]*dispatch.Connection),
		signals:   dispatch.NewSignals(),
		slots:     dispatch.NewSlots(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.id == "" {
		b.id = uuid.NewString()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b.logger = logger.With("service", b.id)

	if b.registry == nil {
		b.registry = objects.NewRegistry(logger)
	}
	if deps.MetricsRegistry != nil {
		b.metrics = deps.MetricsRegistry.CoreMetrics()
	}

	b.declareSignals()
	b.declareSlots()

	if b.worker == nil {
		if b.workers != nil {
			b.worker = b.workers.Default()
		} else {
			b.worker = worker.NewWorker(b.id, worker.WithLogger(logger))
			_ = b.worker.Start(context.Background())
			b.ownsWorker = true
		}
	}
	b.slots.SetWorker(b.worker)

	b.subscribe()
	b.setStatus(StatusStopped)
	return b
}

func (b *Base) declareSignals() {
	b.started, _ = b.signals.Declare(SignalStarted)
	b.stopped, _ = b.signals.Declare(SignalStopped)
	b.updated, _ = b.signals.Declare(SignalUpdated)
	b.swapped, _ = b.signals.Declare(SignalSwapped, dispatch.TypeOf[string]())
	b.signals.SetLogger(b.logger)
	b.signals.SetMetrics(b.metrics)
}

func (b *Base) declareSlots() {
	_, _ = b.slots.Declare(SlotStart, func(ctx context.Context) error {
		return b.Start(ctx).Wait(ctx)
	})
	_, _ = b.slots.Declare(SlotStop, func(ctx context.Context) error {
		return b.Stop(ctx).Wait(ctx)
	})
	_, _ = b.slots.Declare(SlotUpdate, func(ctx context.Context) error {
		return b.Update(ctx).Wait(ctx)
	})
	_, _ = b.slots.Declare(SlotSwapKey, func(ctx context.Context, key string, obj data.Object) error {
		return b.SwapKey(ctx, key, obj).Wait(ctx)
	})
	_, _ = b.slots.Declare(slotObjectAdded, b.onObjectAdded)
	_, _ = b.slots.Declare(slotObjectRemoved, b.onObjectRemoved)
	b.slots.SetMetrics(b.metrics)
}

// ID returns the service id
func (b *Base) ID() string { return b.id }

// Type returns the service type name
func (b *Base) Type() string { return b.typ }

// Logger returns the service logger
func (b *Base) Logger() *slog.Logger { return b.logger }

// Objects returns the object registry the service resolves bindings against
func (b *Base) Objects() *objects.Registry { return b.registry }

// Signals returns the service signal table
func (b *Base) Signals() *dispatch.Signals { return b.signals }

// Slots returns the service slot table
func (b *Base) Slots() *dispatch.Slots { return b.slots }

// Status returns the lifecycle state
func (b *Base) Status() GlobalStatus {
	return GlobalStatus(b.status.Load())
}

// ConfigurationStatus returns whether Configure has completed
func (b *Base) ConfigurationStatus() ConfigurationStatus {
	return ConfigurationStatus(b.cfgStatus.Load())
}

// UpdatingStatus returns whether the updating hook is running
func (b *Base) UpdatingStatus() UpdatingStatus {
	return UpdatingStatus(b.updStatus.Load())
}

// Config returns the parsed configuration, or nil before Configure
func (b *Base) Config() *Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// Worker returns the worker the service slots and hooks run on
func (b *Base) Worker() *worker.Worker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.worker
}

// SetWorker rebinds the service to w. Only allowed while stopped.
func (b *Base) SetWorker(w *worker.Worker) error {
	if w == nil {
		return errors.WrapInvalid(errors.ErrNoWorker, "Service", "SetWorker", "bind worker")
	}
	if st := b.Status(); st != StatusStopped {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrBadState, st),
			"Service", "SetWorker", "bind worker")
	}

	b.mu.Lock()
	old, owned := b.worker, b.ownsWorker
	b.worker = w
	b.ownsWorker = false
	b.mu.Unlock()

	b.slots.SetWorker(w)
	if owned && old != w {
		if err := old.Stop(5 * time.Second); err != nil {
			b.logger.Warn("failed to stop private worker", "error", err)
		}
	}
	return nil
}

// DeclareSignal adds a signal to the service table
func (b *Base) DeclareSignal(key string, argTypes ...reflect.Type) (*dispatch.Signal, error) {
	sig, err := b.signals.Declare(key, argTypes...)
	if err != nil {
		return nil, err
	}
	sig.SetLogger(b.logger)
	sig.SetMetrics(b.metrics)
	return sig, nil
}

// DeclareSlot adds a slot to the service table, bound to the service worker
func (b *Base) DeclareSlot(key string, fn any) (*dispatch.Slot, error) {
	slot, err := b.slots.Declare(key, fn)
	if err != nil {
		return nil, err
	}
	slot.SetWorker(b.Worker())
	slot.SetMetrics(b.metrics)
	return slot, nil
}

// Track records connections made on behalf of the service. They are disconnected
// exactly once at the next stop, or at Destroy.
func (b *Base) Track(conns ...*dispatch.Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range conns {
		if c != nil {
			b.tracked = append(b.tracked, c)
		}
	}
}

// Destroy releases everything the service holds. The service must be stopped.
func (b *Base) Destroy() error {
	if st := b.Status(); st != StatusStopped {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrBadState, st),
			"Service", "Destroy", "destroy "+b.id)
	}
	if b.destroyed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	tracked := b.tracked
	b.tracked = nil
	var outputs []data.Object
	for _, bd := range b.bindings {
		if bd.access == AccessOutput && bd.output != nil {
			outputs = append(outputs, bd.output)
			bd.output = nil
		}
	}
	w, owned := b.worker, b.ownsWorker
	b.mu.Unlock()

	for _, c := range subs {
		c.Disconnect()
	}
	for _, c := range tracked {
		c.Disconnect()
	}
	b.disconnectAllKeys()
	b.signals.DisconnectAll()
	b.slots.DisconnectAll()
	for _, obj := range outputs {
		b.registry.RemoveObject(obj)
	}

	if owned {
		if err := w.Stop(5 * time.Second); err != nil {
			return errors.Wrap(err, "Service", "Destroy", "stop private worker")
		}
	}
	b.logger.Debug("service destroyed")
	return nil
}

// Health derives the service health from its lifecycle state and last hook error.
func (b *Base) Health() health.Status {
	st := b.Status()

	b.mu.RLock()
	lastErr, errCount, startTime := b.lastErr, b.errCount, b.startTime
	b.mu.RUnlock()

	report := health.Report{
		Lifecycle:     st.String(),
		Running:       st == StatusStarted,
		Transitioning: st == StatusStarting || st == StatusStopping || st == StatusSwapping,
		ErrorCount:    errCount,
		StartedAt:     startTime,
	}
	if lastErr != nil {
		report.LastError = lastErr.Error()
	}
	if report.Running {
		report.MissingObjects = b.MissingObjects()
	}

	status := health.FromReport(b.id, report)
	if b.metrics != nil {
		b.metrics.RecordHealthStatus(b.id, status.Healthy)
	}
	return status
}

// LastError returns the error of the most recent failed transition, cleared by a
// successful start.
func (b *Base) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

func (b *Base) setStatus(st GlobalStatus) {
	prev := GlobalStatus(b.status.Swap(int32(st)))
	if b.metrics != nil {
		b.metrics.RecordServiceStatus(b.id, int(st))
	}
	if prev != st {
		b.logger.Debug("status changed", "from", prev, "to", st)
	}
}

func (b *Base) recordFailure(transition string, err error) {
	b.mu.Lock()
	b.lastErr = err
	b.errCount++
	b.mu.Unlock()

	b.logger.Error("lifecycle hook failed", "transition", transition, "error", err)
	if b.metrics != nil {
		b.metrics.RecordError(b.id, errors.Classify(err).String())
	}
}

func (b *Base) recordTransition(transition string, err error) {
	if b.metrics != nil {
		b.metrics.RecordTransition(b.id, transition, err)
	}
}

func (b *Base) recordHook(hook string, start time.Time) {
	if b.metrics != nil {
		b.metrics.RecordHookDuration(b.id, hook, time.Since(start))
	}
}

// emit notifies observers of a lifecycle signal. Missing workers on the receiving
// side are not a transition failure.
func (b *Base) emit(sig *dispatch.Signal, args ...any) {
	if err := sig.AsyncEmit(args...); err != nil {
		b.logger.Debug("lifecycle signal not delivered", "signal", sig.Key(), "error", err)
	}
}
