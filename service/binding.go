package service

import (
	"context"
	"fmt"
	"reflect"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
)

// binding is one declared object key. Input and InOut bindings hold the object id
// and resolve it through the registry on access; Output bindings hold the object.
type binding struct {
	key         string
	access      Access
	autoConnect bool
	optional    bool
	objectID    string
	output      data.Object
	attached    data.Object
	typ         reflect.Type
	group       string
}

// BindingOption customizes a declared binding
type BindingOption func(*binding)

// OfType restricts the binding to objects assignable to T
func OfType[T any]() BindingOption {
	t := dispatch.TypeOf[T]()
	return func(bd *binding) {
		bd.typ = t
	}
}

// BindingInfo is a snapshot of one binding
type BindingInfo struct {
	Key         string
	Access      Access
	AutoConnect bool
	Optional    bool
	ObjectID    string
	Group       string
	Resolved    bool
}

// GroupKey returns the key of entry index of group
func GroupKey(group string, index int) string {
	return fmt.Sprintf("%s#%d", group, index)
}

func unknownKey(key, method string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownKey, key), "Service", method, "resolve key")
}

// RegisterObject declares a binding whose object may become available later.
func (b *Base) RegisterObject(key string, access Access, autoConnect, optional bool, opts ...BindingOption) error {
	if key == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: empty key", errors.ErrConfiguration),
			"Service", "RegisterObject", "declare binding")
	}

	bd := &binding{key: key, access: access, autoConnect: autoConnect, optional: optional}
	for _, opt := range opts {
		opt(bd)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.bindings[key]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrAlreadyRegistered, key),
			"Service", "RegisterObject", "declare binding")
	}
	b.addBindingLocked(bd)
	return nil
}

func (b *Base) addBindingLocked(bd *binding) {
	b.bindings[bd.key] = bd
	b.order = append(b.order, bd.key)
}

// RegisterInput declares an Input binding and binds obj to it. obj is added to the
// object registry when absent.
func (b *Base) RegisterInput(obj data.Object, key string, autoConnect, optional bool, opts ...BindingOption) error {
	return b.registerBound("RegisterInput", obj, key, AccessInput, autoConnect, optional, opts)
}

// RegisterInOut declares an InOut binding and binds obj to it.
func (b *Base) RegisterInOut(obj data.Object, key string, autoConnect, optional bool, opts ...BindingOption) error {
	return b.registerBound("RegisterInOut", obj, key, AccessInOut, autoConnect, optional, opts)
}

func (b *Base) registerBound(method string, obj data.Object, key string, access Access, autoConnect, optional bool, opts []BindingOption) error {
	if obj != nil {
		probe := &binding{key: key, access: access}
		for _, opt := range opts {
			opt(probe)
		}
		if err := checkType(probe, obj); err != nil {
			return errors.WrapInvalid(err, "Service", method, "type check")
		}
	}
	if err := b.RegisterObject(key, access, autoConnect, optional, opts...); err != nil {
		return err
	}
	if obj == nil {
		return nil
	}
	if err := b.BindObject(key, obj); err != nil {
		b.mu.Lock()
		b.removeBindingLocked(key)
		b.mu.Unlock()
		return err
	}
	return nil
}

// RegisterObjectGroup declares the bindings key#0 .. key#(maxCount-1). The first
// minCount entries are required.
func (b *Base) RegisterObjectGroup(key string, access Access, minCount int, autoConnect bool, maxCount int, opts ...BindingOption) error {
	if key == "" || maxCount <= 0 || minCount < 0 || minCount > maxCount {
		return errors.WrapInvalid(
			fmt.Errorf("%w: group %q needs 0 <= min (%d) <= max (%d) and max > 0",
				errors.ErrConfiguration, key, minCount, maxCount),
			"Service", "RegisterObjectGroup", "declare group")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < maxCount; i++ {
		if _, exists := b.bindings[GroupKey(key, i)]; exists {
			return errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrAlreadyRegistered, GroupKey(key, i)),
				"Service", "RegisterObjectGroup", "declare group")
		}
	}
	for i := 0; i < maxCount; i++ {
		bd := &binding{
			key:         GroupKey(key, i),
			access:      access,
			autoConnect: autoConnect,
			optional:    i >= minCount,
			group:       key,
		}
		for _, opt := range opts {
			opt(bd)
		}
		b.addBindingLocked(bd)
	}
	return nil
}

// BindObject binds obj to a declared Input or InOut key and adds it to the object
// registry when absent. A running service rebinds through SwapKey instead.
func (b *Base) BindObject(key string, obj data.Object) error {
	if obj == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil object for %q", errors.ErrTypeMismatch, key),
			"Service", "BindObject", "bind object")
	}
	if st := b.Status(); st != StatusStopped {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrBadState, st),
			"Service", "BindObject", "bind "+key)
	}

	b.mu.RLock()
	bd, ok := b.bindings[key]
	var err error
	if ok {
		if bd.access == AccessOutput {
			err = fmt.Errorf("%w: %q is an output, use SetOutput", errors.ErrTypeMismatch, key)
		} else {
			err = checkType(bd, obj)
		}
	}
	b.mu.RUnlock()
	if !ok {
		return unknownKey(key, "BindObject")
	}
	if err != nil {
		return errors.WrapInvalid(err, "Service", "BindObject", "type check")
	}

	if err := b.registry.Add(obj); err != nil {
		return err
	}

	b.mu.Lock()
	bd.objectID = obj.ID()
	b.mu.Unlock()
	return nil
}

// SetObjectID binds a declared key to an object id. The object need not exist yet;
// it resolves once it is added to the registry. For an Output key the id is the one
// returned by OutputID.
func (b *Base) SetObjectID(key, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bd, ok := b.bindings[key]
	if !ok {
		return unknownKey(key, "SetObjectID")
	}
	if st := b.Status(); bd.access != AccessOutput && st != StatusStopped {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrBadState, st),
			"Service", "SetObjectID", "bind "+key)
	}
	bd.objectID = id
	return nil
}

// OutputID returns the id an Output key is published under: the configured or
// published id, or "<service id>/<key>".
func (b *Base) OutputID(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bd, ok := b.bindings[key]; ok && bd.objectID != "" {
		return bd.objectID
	}
	return b.id + "/" + key
}

// SetOutput publishes obj under an Output key, replacing and unpublishing any
// previous object. A nil obj unpublishes. Undeclared keys are declared as optional
// outputs.
func (b *Base) SetOutput(key string, obj data.Object) error {
	b.mu.Lock()
	bd, ok := b.bindings[key]
	if !ok {
		bd = &binding{key: key, access: AccessOutput, optional: true}
		b.addBindingLocked(bd)
	}
	if bd.access != AccessOutput {
		b.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("%w: %q is declared as %s", errors.ErrTypeMismatch, key, bd.access),
			"Service", "SetOutput", "publish output")
	}
	if obj != nil {
		if err := checkType(bd, obj); err != nil {
			b.mu.Unlock()
			return errors.WrapInvalid(err, "Service", "SetOutput", "type check")
		}
	}
	old := bd.output
	autoConnect := bd.autoConnect
	b.mu.Unlock()

	if old == obj {
		return nil
	}

	if old != nil && (obj == nil || old.ID() == obj.ID()) {
		b.registry.RemoveObject(old)
		old = nil
	}
	if obj != nil {
		if err := b.registry.Add(obj); err != nil {
			return errors.Wrap(err, "Service", "SetOutput", "publish "+key)
		}
	}

	b.mu.Lock()
	bd.output = obj
	if obj != nil {
		bd.objectID = obj.ID()
	}
	b.mu.Unlock()

	if old != nil {
		b.registry.RemoveObject(old)
	}

	switch b.Status() {
	case StatusStarting, StatusStarted, StatusSwapping:
		if autoConnect {
			b.disconnectKey(key)
			if err := b.connectKey(key); err != nil {
				return errors.Wrap(err, "Service", "SetOutput", "auto-connect "+key)
			}
		}
	}
	return nil
}

// UnregisterObject removes a binding. With auto start, removing a required InOut
// binding from a started service stops it first.
func (b *Base) UnregisterObject(ctx context.Context, key string) error {
	b.mu.RLock()
	bd, ok := b.bindings[key]
	var access Access
	var optional bool
	if ok {
		access, optional = bd.access, bd.optional
	}
	b.mu.RUnlock()
	if !ok {
		return unknownKey(key, "UnregisterObject")
	}

	if b.autoStart && access == AccessInOut && !optional && b.Status() == StatusStarted {
		if err := b.Stop(ctx).Wait(ctx); err != nil {
			b.logger.Warn("stop before unregister failed", "key", key, "error", err)
		}
	}

	b.disconnectKey(key)

	b.mu.Lock()
	bd, ok = b.bindings[key]
	var output data.Object
	if ok {
		output = bd.output
		b.removeBindingLocked(key)
	}
	b.mu.Unlock()

	if output != nil {
		b.registry.RemoveObject(output)
	}
	return nil
}

// UnregisterInput removes an Input binding
func (b *Base) UnregisterInput(ctx context.Context, key string) error {
	return b.unregisterAccess(ctx, key, AccessInput)
}

// UnregisterInOut removes an InOut binding
func (b *Base) UnregisterInOut(ctx context.Context, key string) error {
	return b.unregisterAccess(ctx, key, AccessInOut)
}

func (b *Base) unregisterAccess(ctx context.Context, key string, want Access) error {
	b.mu.RLock()
	bd, ok := b.bindings[key]
	var access Access
	if ok {
		access = bd.access
	}
	b.mu.RUnlock()
	if !ok {
		return unknownKey(key, "Unregister")
	}
	if access != want {
		return errors.WrapInvalid(fmt.Errorf("%w: %q is declared as %s", errors.ErrTypeMismatch, key, access),
			"Service", "Unregister", "check access")
	}
	return b.UnregisterObject(ctx, key)
}

func (b *Base) removeBindingLocked(key string) {
	delete(b.bindings, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Input returns the object bound to an Input key. Callers must treat it as
// read-only.
func (b *Base) Input(key string) (data.Object, error) {
	return b.objectFor(key, "Input", AccessInput)
}

// InOut returns the object bound to an InOut key
func (b *Base) InOut(key string) (data.Object, error) {
	return b.objectFor(key, "InOut", AccessInOut)
}

// Output returns the object published under an Output key
func (b *Base) Output(key string) (data.Object, error) {
	return b.objectFor(key, "Output", AccessOutput)
}

// Object returns the object bound to key whatever its access
func (b *Base) Object(key string) (data.Object, error) {
	return b.objectFor(key, "Object")
}

func (b *Base) objectFor(key, method string, want ...Access) (data.Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bd, ok := b.bindings[key]
	if !ok {
		return nil, unknownKey(key, method)
	}
	if len(want) > 0 && bd.access != want[0] {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q is declared as %s, not %s", errors.ErrTypeMismatch, key, bd.access, want[0]),
			"Service", method, "check access")
	}
	obj, err := b.resolveLocked(bd)
	if err != nil {
		return nil, errors.Wrap(err, "Service", method, "resolve "+key)
	}
	return obj, nil
}

// ObjectAs returns the object bound to key as T
func ObjectAs[T any](b *Base, key string) (T, error) {
	var zero T
	obj, err := b.Object(key)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, errors.WrapInvalid(
			fmt.Errorf("%w: %q holds %T, not %s", errors.ErrTypeMismatch, key, obj, dispatch.TypeOf[T]()),
			"Service", "ObjectAs", "convert object")
	}
	return v, nil
}

// GroupObjects returns the resolved objects of a group in index order. Unresolved
// entries are skipped.
func (b *Base) GroupObjects(group string) []data.Object {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []data.Object
	for _, key := range b.order {
		bd := b.bindings[key]
		if bd.group != group {
			continue
		}
		if obj, err := b.resolveLocked(bd); err == nil {
			out = append(out, obj)
		}
	}
	return out
}

func (b *Base) resolveLocked(bd *binding) (data.Object, error) {
	if bd.access == AccessOutput {
		if bd.output == nil {
			return nil, fmt.Errorf("%w: output %q is not published", errors.ErrMissingObject, bd.key)
		}
		return bd.output, nil
	}
	if bd.objectID == "" {
		return nil, fmt.Errorf("%w: %q is not bound", errors.ErrMissingObject, bd.key)
	}
	obj, ok := b.registry.Lookup(bd.objectID)
	if !ok {
		return nil, fmt.Errorf("%w: object %q bound to %q", errors.ErrExpiredObject, bd.objectID, bd.key)
	}
	if err := checkType(bd, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func checkType(bd *binding, obj data.Object) error {
	if bd.typ == nil || obj == nil {
		return nil
	}
	if !reflect.TypeOf(obj).AssignableTo(bd.typ) {
		return fmt.Errorf("%w: %q expects %s, got %T", errors.ErrTypeMismatch, bd.key, bd.typ, obj)
	}
	return nil
}

// HasAllRequiredObjects reports whether every required Input and InOut binding
// resolves. Outputs are produced by the service itself and are not counted.
func (b *Base) HasAllRequiredObjects() bool {
	return len(b.MissingObjects()) == 0
}

// MissingObjects returns the required keys that do not resolve, in declaration order
func (b *Base) MissingObjects() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var missing []string
	for _, key := range b.order {
		bd := b.bindings[key]
		if bd.access == AccessOutput || bd.optional {
			continue
		}
		if _, err := b.resolveLocked(bd); err != nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// Keys returns the declared keys in declaration order
func (b *Base) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, len(b.order))
	copy(keys, b.order)
	return keys
}

// Binding returns a snapshot of the binding declared under key
func (b *Base) Binding(key string) (BindingInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bd, ok := b.bindings[key]
	if !ok {
		return BindingInfo{}, false
	}
	_, err := b.resolveLocked(bd)
	return BindingInfo{
		Key:         bd.key,
		Access:      bd.access,
		AutoConnect: bd.autoConnect,
		Optional:    bd.optional,
		ObjectID:    bd.objectID,
		Group:       bd.group,
		Resolved:    err == nil,
	}, true
}

// keysForObject returns the Input and InOut keys bound to id
func (b *Base) keysForObject(id string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for _, key := range b.order {
		bd := b.bindings[key]
		if bd.access != AccessOutput && bd.objectID == id {
			keys = append(keys, key)
		}
	}
	return keys
}
