package service

import (
	"context"
	"fmt"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
)

// Internal slots fed by the object registry
const (
	slotObjectAdded   = "object_added"
	slotObjectRemoved = "object_removed"
)

// autoConnectionsFor returns the connections declared for a binding. Services that
// do not declare a map, or do not list the key, get DefaultAutoConnection.
func (b *Base) autoConnectionsFor(key, group string) []AutoConnection {
	if ac, ok := b.impl.(AutoConnector); ok {
		m := ac.AutoConnections()
		if conns, ok := m[key]; ok {
			return conns
		}
		if group != "" {
			if conns, ok := m[group]; ok {
				return conns
			}
		}
	}
	return []AutoConnection{DefaultAutoConnection}
}

// connectAll wires the auto-connections of every resolved binding
func (b *Base) connectAll() error {
	var errs []error
	for _, key := range b.Keys() {
		if err := b.connectKey(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// connectKey attaches the object a binding resolves to and wires its
// auto-connections. Unresolved bindings are skipped.
func (b *Base) connectKey(key string) error {
	b.mu.Lock()
	bd, ok := b.bindings[key]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	obj, err := b.resolveLocked(bd)
	if err != nil {
		bd.attached = nil
		b.mu.Unlock()
		return nil
	}
	bd.attached = obj
	if !bd.autoConnect {
		b.mu.Unlock()
		return nil
	}
	group := bd.group
	b.mu.Unlock()

	var conns []*dispatch.Connection
	var errs []error
	for _, ac := range b.autoConnectionsFor(key, group) {
		c, err := b.connectOne(obj, ac)
		if err != nil {
			errs = append(errs, fmt.Errorf("auto-connect %q %s -> %s: %w", key, ac.Signal, ac.Slot, err))
			continue
		}
		conns = append(conns, c)
	}

	if len(conns) > 0 {
		b.mu.Lock()
		b.autoConns[key] = append(b.autoConns[key], conns...)
		b.mu.Unlock()
		b.logger.Debug("auto-connected", "key", key, "object", obj.ID(), "connections", len(conns))
	}
	return errors.Join(errs...)
}

func (b *Base) connectOne(obj data.Object, ac AutoConnection) (*dispatch.Connection, error) {
	sig, err := obj.Signals().Get(ac.Signal)
	if err != nil {
		return nil, err
	}
	slot, err := b.slots.Get(ac.Slot)
	if err != nil {
		return nil, err
	}
	return sig.Connect(slot)
}

func (b *Base) attachedTo(key string) data.Object {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bd, ok := b.bindings[key]; ok {
		return bd.attached
	}
	return nil
}

// disconnectKey drops the auto-connections of one binding
func (b *Base) disconnectKey(key string) {
	b.mu.Lock()
	conns := b.autoConns[key]
	delete(b.autoConns, key)
	if bd, ok := b.bindings[key]; ok {
		bd.attached = nil
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
}

func (b *Base) disconnectAllKeys() {
	b.mu.Lock()
	all := b.autoConns
	b.autoConns = make(map[string][]*dispatch.Connection)
	for _, bd := range b.bindings {
		bd.attached = nil
	}
	b.mu.Unlock()

	for _, conns := range all {
		for _, c := range conns {
			c.Disconnect()
		}
	}
}

func (b *Base) disconnectTracked() {
	b.mu.Lock()
	tracked := b.tracked
	b.tracked = nil
	b.mu.Unlock()

	for _, c := range tracked {
		c.Disconnect()
	}
	if len(tracked) > 0 {
		b.logger.Debug("tracked connections released", "count", len(tracked))
	}
}

// subscribe connects the registry notifications to the service so bindings that
// name an absent object resolve when it is added.
func (b *Base) subscribe() {
	added, _ := b.slots.Get(slotObjectAdded)
	removed, _ := b.slots.Get(slotObjectRemoved)

	var subs []*dispatch.Connection
	if c, err := b.registry.Added().Connect(added); err == nil {
		subs = append(subs, c)
	}
	if c, err := b.registry.Removed().Connect(removed); err == nil {
		subs = append(subs, c)
	}

	b.mu.Lock()
	b.subs = subs
	b.mu.Unlock()
}

// onObjectAdded runs on the service worker when an object enters the registry.
func (b *Base) onObjectAdded(ctx context.Context, id string, obj data.Object) {
	keys := b.keysForObject(id)
	if len(keys) == 0 {
		return
	}

	switch b.Status() {
	case StatusStarted:
		for _, key := range keys {
			if b.attachedTo(key) == obj {
				continue
			}
			if err := b.runSwap(ctx, key, obj, true); err != nil {
				b.logger.Warn("rebinding added object failed", "key", key, "object", id, "error", err)
			}
		}
	case StatusStopped:
		if b.autoStart && b.ConfigurationStatus() == Configured && b.HasAllRequiredObjects() {
			if err := b.Start(ctx).Wait(ctx); err != nil {
				b.logger.Warn("auto start failed", "object", id, "error", err)
			}
		}
	}
}

// onObjectRemoved runs on the service worker when an object leaves the registry.
func (b *Base) onObjectRemoved(ctx context.Context, id string) {
	keys := b.keysForObject(id)
	if len(keys) == 0 || b.Status() != StatusStarted {
		return
	}

	if b.autoStart {
		for _, key := range keys {
			if info, ok := b.Binding(key); ok && !info.Optional {
				if err := b.Stop(ctx).Wait(ctx); err != nil {
					b.logger.Warn("auto stop failed", "object", id, "error", err)
				}
				return
			}
		}
	}

	for _, key := range keys {
		if err := b.runSwap(ctx, key, nil, true); err != nil {
			b.logger.Warn("unbinding removed object failed", "key", key, "object", id, "error", err)
		}
	}
}
