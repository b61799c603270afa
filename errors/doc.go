// Package errors provides standardized error handling for the slotbus runtime.
//
// # Overview
//
// The package implements the three-class error classification used across the runtime:
// Transient (may succeed later), Invalid (contract violation, do not retry) and Fatal
// (stop processing). On top of that it defines the runtime taxonomy every package
// reports against:
//
//   - ErrConfiguration: malformed or incomplete configuration tree
//   - ErrMissingObject: a required object binding is unresolved at start
//   - ErrTypeMismatch: binding or swap with an incompatible object type or access kind
//   - ErrUnknownKey: reference to an undeclared binding, signal or slot
//   - ErrSignatureMismatch: connect-time or emit-time argument type check
//   - ErrExpiredObject: a bound object has left the object registry
//
// Structural errors are reported synchronously at the call site. Errors raised by service
// hooks travel through the task returned by the lifecycle call.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// The generic Wrap() function keeps the original error's classification.
//
// # Classification Order
//
// Classify, and the Is* helpers, look at an error in this order: the outermost
// ClassifiedError in the chain, then the runtime sentinels (contract errors are
// invalid, ErrWorkerStopped is fatal, cancellation is transient), then words in
// the message ("panic" and "fatal" before "timeout" or "unavailable"). Anything
// left is treated as transient. pkg/retry only retries transient errors.
//
// # Integration with errors.As/Is
//
// Sentinels survive wrapping, so callers match on them directly:
//
//	task := svc.Start(ctx)
//	if err := task.Wait(ctx); errors.Is(err, errors.ErrMissingObject) {
//	    // bind the missing inputs and retry
//	}
//
//	var ce *errors.ClassifiedError
//	if errors.As(err, &ce) {
//	    log.Printf("component %s failed in %s", ce.Component, ce.Operation)
//	}
//
// # Thread Safety
//
// All classification and wrapping operations are safe for concurrent use. Error
// variables are never mutated.
package errors
