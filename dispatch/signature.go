package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/c360/slotbus/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Signature is the ordered list of argument types a signal carries or a slot accepts.
type Signature []reflect.Type

// TypeOf returns the reflect.Type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// String renders the signature as "(T1, T2)"
func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Accepts reports whether a slot with signature slot can be connected to a signal
// with signature s. The slot may take a prefix of the signal arguments; each signal
// argument it takes must be assignable to the slot parameter.
func (s Signature) Accepts(slot Signature) bool {
	if len(slot) > len(s) {
		return false
	}
	for i, param := range slot {
		if !s[i].AssignableTo(param) {
			return false
		}
	}
	return true
}

// Check validates emitted arguments against the signature.
func (s Signature) Check(args []any) error {
	if len(args) != len(s) {
		return fmt.Errorf("%w: expected %d arguments %s, got %d",
			errors.ErrSignatureMismatch, len(s), s, len(args))
	}
	for i, arg := range args {
		if _, err := convert(arg, s[i]); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// convert turns arg into a value of type t. nil converts to the zero value of types
// that can hold nil.
func convert(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		default:
			return reflect.Value{}, fmt.Errorf("%w: nil is not a valid %s", errors.ErrSignatureMismatch, t)
		}
	}
	v := reflect.ValueOf(arg)
	if !v.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s",
			errors.ErrSignatureMismatch, v.Type(), t)
	}
	return v, nil
}

// inspect derives the call shape of a slot function.
func inspect(fn any) (reflect.Value, Signature, bool, bool, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return reflect.Value{}, nil, false, false, fmt.Errorf("%w: slot must be a function, got %T",
			errors.ErrSignatureMismatch, fn)
	}
	ft := v.Type()
	if ft.IsVariadic() {
		return reflect.Value{}, nil, false, false, fmt.Errorf("%w: variadic slot functions are not supported",
			errors.ErrSignatureMismatch)
	}

	takesCtx := ft.NumIn() > 0 && ft.In(0) == contextType
	start := 0
	if takesCtx {
		start = 1
	}
	sig := make(Signature, 0, ft.NumIn()-start)
	for i := start; i < ft.NumIn(); i++ {
		sig = append(sig, ft.In(i))
	}

	returnsErr := false
	switch ft.NumOut() {
	case 0:
	case 1:
		returnsErr = ft.Out(0) == errorType
	case 2:
		if ft.Out(1) != errorType {
			return reflect.Value{}, nil, false, false, fmt.Errorf(
				"%w: second result of a slot must be error, got %s", errors.ErrSignatureMismatch, ft.Out(1))
		}
		returnsErr = true
	default:
		return reflect.Value{}, nil, false, false, fmt.Errorf("%w: slot returns %d values, at most 2 allowed",
			errors.ErrSignatureMismatch, ft.NumOut())
	}

	return v, sig, takesCtx, returnsErr, nil
}
