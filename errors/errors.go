// Package errors provides the error taxonomy of the slotbus runtime.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells callers how to react to an error
type ErrorClass int

const (
	// ErrorTransient may succeed when retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid is a contract violation detected at the call site
	ErrorInvalid
	// ErrorFatal means the component cannot continue
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Runtime sentinels. Match them with Is; wrapping preserves them.
var (
	// Contract errors, reported synchronously
	ErrConfiguration     = errors.New("invalid configuration")
	ErrMissingObject     = errors.New("required object missing")
	ErrTypeMismatch      = errors.New("object type mismatch")
	ErrUnknownKey        = errors.New("unknown key")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrExpiredObject     = errors.New("object expired")

	ErrAlreadyConnected  = errors.New("slot already connected")
	ErrAlreadyRegistered = errors.New("key already registered")
	ErrBadState          = errors.New("transition not allowed in current state")

	// Worker and task errors
	ErrNoWorker       = errors.New("no worker bound")
	ErrWorkerStopped  = errors.New("worker stopped")
	ErrTaskCanceled   = errors.New("task canceled")
	ErrTaskNotStarted = errors.New("task not started")
)

// sentinelClasses classifies unwrapped sentinels. Order matters: the first
// match wins.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrConfiguration, ErrorInvalid},
	{ErrMissingObject, ErrorInvalid},
	{ErrTypeMismatch, ErrorInvalid},
	{ErrUnknownKey, ErrorInvalid},
	{ErrSignatureMismatch, ErrorInvalid},
	{ErrAlreadyConnected, ErrorInvalid},
	{ErrAlreadyRegistered, ErrorInvalid},
	{ErrBadState, ErrorInvalid},
	{ErrWorkerStopped, ErrorFatal},
	{ErrTaskCanceled, ErrorTransient},
	{context.Canceled, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
}

var (
	transientWords = []string{"timeout", "temporary", "unavailable", "busy"}
	fatalWords     = []string{"fatal", "panic"}
)

// ClassifiedError carries an error class and where the error was raised
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf resolves the class of err: an explicit ClassifiedError first, then
// known sentinels, then words in the message. ok is false when nothing matched.
func classOf(err error) (class ErrorClass, ok bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, w := range fatalWords {
		if strings.Contains(msg, w) {
			return ErrorFatal, true
		}
	}
	for _, w := range transientWords {
		if strings.Contains(msg, w) {
			return ErrorTransient, true
		}
	}
	return ErrorTransient, false
}

func is(err error, want ErrorClass) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == want
}

// IsTransient reports whether err may succeed when retried
func IsTransient(err error) bool { return is(err, ErrorTransient) }

// IsFatal reports whether err should stop the component that raised it
func IsFatal(err error) bool { return is(err, ErrorFatal) }

// IsInvalid reports whether err is a contract violation
func IsInvalid(err error) bool { return is(err, ErrorInvalid) }

// Classify returns the class of err. Unrecognised errors are transient so
// callers may retry them.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	class, _ := classOf(err)
	return class
}

// Wrap adds context in the form "component.method: action failed: err",
// keeping the class of err
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err as transient
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err as fatal
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err as invalid
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
