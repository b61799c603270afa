package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360/slotbus/config"
	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/pkg/worker"
	"github.com/c360/slotbus/types"
)

// post runs a transition on the service worker. When ctx already belongs to that
// worker the transition runs in place and the returned task is resolved.
func (b *Base) post(ctx context.Context, fn func(ctx context.Context) error) *worker.Task {
	if ctx == nil {
		ctx = context.Background()
	}
	w := b.Worker()
	if w == nil {
		return worker.Failed(errors.WrapFatal(errors.ErrNoWorker, "Service", "post", "schedule transition"))
	}

	b.pending.Add(1)
	t := w.PostOrRun(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	select {
	case <-t.Done():
		b.pending.Add(-1)
	default:
		go func() {
			<-t.Done()
			b.pending.Add(-1)
		}()
	}
	return t
}

// callHook runs a lifecycle hook and turns a panic into an error so the transition
// bookkeeping still completes.
func callHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in hook: %v", r)
		}
	}()
	return fn()
}

func badState(method string, st GlobalStatus) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s from %s", errors.ErrBadState, strings.ToLower(method), st),
		"Service", method, "check status")
}

// Configure ingests a configuration tree. While stopped it parses the tree, applies
// the object entries and runs the Configuring hook. While started it runs the
// Reconfiguring hook, if any, on the service worker and leaves the status alone.
func (b *Base) Configure(ctx context.Context, tree *types.ConfigTree) error {
	if ctx == nil {
		ctx = context.Background()
	}

	switch st := b.Status(); st {
	case StatusStopped:
	case StatusStarted:
		r, ok := b.impl.(Reconfigurer)
		if !ok {
			return nil
		}
		if b.schema != "" {
			if err := config.ValidateTree(tree, b.schema); err != nil {
				return errors.WrapInvalid(err, "Service", "Configure", "schema validation")
			}
		}
		err := b.Worker().PostSync(ctx, func(ctx context.Context) error {
			return r.Reconfiguring(ctx, tree)
		})
		b.recordTransition("reconfigure", err)
		if err != nil {
			b.recordFailure("reconfigure", err)
			return errors.Wrap(err, "Service", "Configure", "reconfiguring hook")
		}
		b.mu.Lock()
		b.tree = tree
		b.mu.Unlock()
		return nil
	default:
		return badState("Configure", st)
	}

	cfg, err := ParseConfig(tree)
	if err != nil {
		return errors.WrapInvalid(err, "Service", "Configure", "parse config")
	}
	if cfg.UID != "" && cfg.UID != b.id {
		return errors.WrapInvalid(
			fmt.Errorf("%w: uid %q does not match service id %q", errors.ErrConfiguration, cfg.UID, b.id),
			"Service", "Configure", "check uid")
	}
	if b.schema != "" {
		if err := config.ValidateTree(tree, b.schema); err != nil {
			return errors.WrapInvalid(err, "Service", "Configure", "schema validation")
		}
	}

	b.cfgStatus.Store(int32(Configuring))

	if cfg.Worker != "" {
		if err := b.selectWorker(cfg.Worker); err != nil {
			b.cfgStatus.Store(int32(Unconfigured))
			return err
		}
	}
	if err := b.applyObjects(cfg); err != nil {
		b.cfgStatus.Store(int32(Unconfigured))
		return errors.WrapInvalid(err, "Service", "Configure", "apply objects")
	}

	if err := callHook(func() error { return b.impl.Configuring(tree) }); err != nil {
		b.cfgStatus.Store(int32(Unconfigured))
		b.recordFailure("configure", err)
		return errors.Wrap(err, "Service", "Configure", "configuring hook")
	}

	b.mu.Lock()
	b.config = cfg
	b.tree = tree
	b.mu.Unlock()
	b.cfgStatus.Store(int32(Configured))
	b.logger.Debug("service configured", "type", cfg.Type, "objects", len(cfg.Objects))

	if b.autoStart && b.HasAllRequiredObjects() {
		t := b.Start(ctx)
		go func() {
			<-t.Done()
			if err := t.Err(); err != nil {
				b.logger.Warn("auto start failed", "error", err)
			}
		}()
	}
	return nil
}

func (b *Base) selectWorker(name string) error {
	if b.workers == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: worker %q requested without a worker registry",
			errors.ErrConfiguration, name), "Service", "Configure", "select worker")
	}
	w, err := b.workers.GetOrCreate(name)
	if err != nil {
		return errors.Wrap(err, "Service", "Configure", "select worker")
	}
	return b.SetWorker(w)
}

func (b *Base) applyObjects(cfg *Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, oc := range cfg.Objects {
		bd, ok := b.bindings[oc.Key]
		if !ok {
			bd = &binding{key: oc.Key, access: oc.Access, optional: oc.Optional, group: oc.Group}
			b.addBindingLocked(bd)
		} else if bd.access != oc.Access {
			return fmt.Errorf("%w: %q is declared as %s, configured as %s",
				errors.ErrConfiguration, oc.Key, bd.access, oc.Access)
		}
		bd.autoConnect = bd.autoConnect || oc.AutoConnect || cfg.AutoConnect
		bd.optional = bd.optional || oc.Optional
		if oc.UID != "" {
			bd.objectID = oc.UID
		}
	}
	if cfg.AutoConnect {
		for _, bd := range b.bindings {
			bd.autoConnect = true
		}
	}
	return nil
}

// Start moves a stopped service to Started: it checks the required objects, wires
// the auto-connections and runs the Starting hook on the service worker. A failing
// hook still leaves the service Started; the task carries the error.
func (b *Base) Start(ctx context.Context) *worker.Task {
	return b.post(ctx, b.runStart)
}

func (b *Base) runStart(ctx context.Context) error {
	if st := b.Status(); st != StatusStopped {
		return badState("Start", st)
	}
	if missing := b.MissingObjects(); len(missing) > 0 {
		err := errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrMissingObject, strings.Join(missing, ", ")),
			"Service", "Start", "check required objects")
		b.recordTransition("start", err)
		return err
	}

	b.setStatus(StatusStarting)
	connErr := b.connectAll()

	hookStart := time.Now()
	hookErr := callHook(func() error { return b.impl.Starting(ctx) })
	b.recordHook("starting", hookStart)

	b.mu.Lock()
	b.startTime = time.Now()
	if hookErr == nil && connErr == nil {
		b.lastErr = nil
	}
	b.mu.Unlock()
	b.setStatus(StatusStarted)

	err := errors.Join(connErr, hookErr)
	b.recordTransition("start", err)
	b.emit(b.started)
	if err != nil {
		b.recordFailure("start", err)
		return errors.Wrap(err, "Service", "Start", "starting hook")
	}
	return nil
}

// Stop moves a started service to Stopped: it tears down auto-connections and
// tracked connections and runs the Stopping hook. Stopping a stopped service with
// no transition queued resolves immediately.
func (b *Base) Stop(ctx context.Context) *worker.Task {
	if b.Status() == StatusStopped && b.pending.Load() == 0 {
		return worker.Completed(nil)
	}
	return b.post(ctx, b.runStop)
}

func (b *Base) runStop(ctx context.Context) error {
	switch st := b.Status(); st {
	case StatusStopped:
		return nil
	case StatusStarted:
	default:
		return badState("Stop", st)
	}

	b.setStatus(StatusStopping)
	b.disconnectAllKeys()
	b.disconnectTracked()

	hookStart := time.Now()
	err := callHook(func() error { return b.impl.Stopping(ctx) })
	b.recordHook("stopping", hookStart)

	b.setStatus(StatusStopped)
	b.recordTransition("stop", err)
	b.emit(b.stopped)
	if err != nil {
		b.recordFailure("stop", err)
		return errors.Wrap(err, "Service", "Stop", "stopping hook")
	}
	return nil
}

// Update runs the Updating hook of a started service on its worker. Overlapping
// updates queue behind each other.
func (b *Base) Update(ctx context.Context) *worker.Task {
	return b.post(ctx, b.runUpdate)
}

func (b *Base) runUpdate(ctx context.Context) error {
	if st := b.Status(); st != StatusStarted {
		return badState("Update", st)
	}

	b.updStatus.Store(int32(Updating))
	hookStart := time.Now()
	err := callHook(func() error { return b.impl.Updating(ctx) })
	b.recordHook("updating", hookStart)
	b.updStatus.Store(int32(NotUpdating))

	b.recordTransition("update", err)
	b.emit(b.updated)
	if err != nil {
		b.recordFailure("update", err)
		return errors.Wrap(err, "Service", "Update", "updating hook")
	}
	return nil
}

// SwapKey replaces the object bound to key on a started service and migrates the
// auto-connections of that key. Unknown keys and incompatible objects fail before
// anything is queued and leave the binding unchanged. A nil obj unbinds the key.
func (b *Base) SwapKey(ctx context.Context, key string, obj data.Object) *worker.Task {
	b.mu.RLock()
	bd, ok := b.bindings[key]
	var err error
	if ok {
		err = checkType(bd, obj)
	}
	b.mu.RUnlock()
	if !ok {
		return worker.Failed(unknownKey(key, "SwapKey"))
	}
	if err != nil {
		return worker.Failed(errors.WrapInvalid(err, "Service", "SwapKey", "type check"))
	}

	return b.post(ctx, func(ctx context.Context) error {
		return b.runSwap(ctx, key, obj, false)
	})
}

// runSwap rebinds key. keepID leaves an Input or InOut binding pointing at its old
// id, used when the registry drops the object so that it rebinds if it returns.
func (b *Base) runSwap(ctx context.Context, key string, obj data.Object, keepID bool) error {
	if st := b.Status(); st != StatusStarted {
		return badState("SwapKey", st)
	}

	b.mu.RLock()
	bd, ok := b.bindings[key]
	b.mu.RUnlock()
	if !ok {
		return unknownKey(key, "SwapKey")
	}

	b.setStatus(StatusSwapping)
	b.disconnectKey(key)

	var connErr error
	if bd.access == AccessOutput {
		// SetOutput reconnects the key while swapping
		connErr = b.SetOutput(key, obj)
	} else {
		if obj != nil {
			if err := b.registry.Add(obj); err != nil {
				return b.abortSwap(key, err)
			}
		}
		if !keepID {
			b.mu.Lock()
			bd.objectID = ""
			if obj != nil {
				bd.objectID = obj.ID()
			}
			b.mu.Unlock()
		}
		connErr = b.connectKey(key)
	}

	var hookErr error
	if s, ok := b.impl.(Swapper); ok {
		hookStart := time.Now()
		hookErr = callHook(func() error { return s.Swapping(ctx, key) })
		b.recordHook("swapping", hookStart)
	}

	b.setStatus(StatusStarted)
	err := errors.Join(connErr, hookErr)
	b.recordTransition("swap", err)
	b.emit(b.swapped, key)
	if err != nil {
		b.recordFailure("swap", err)
		return errors.Wrap(err, "Service", "SwapKey", "swap "+key)
	}
	return nil
}

// abortSwap restores the connections of a binding that kept its old object. The
// Swapping hook does not run and swapped is not emitted.
func (b *Base) abortSwap(key string, err error) error {
	if cerr := b.connectKey(key); cerr != nil {
		b.logger.Warn("restoring connections after failed swap", "key", key, "error", cerr)
	}
	b.setStatus(StatusStarted)
	b.recordTransition("swap", err)
	b.recordFailure("swap", err)
	return errors.Wrap(err, "Service", "SwapKey", "bind "+key)
}
