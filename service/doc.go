// Package service implements the service runtime of slotbus.
//
// A service embeds *Base and supplies Hooks. Base owns the lifecycle state machine
//
//	Stopped -> Starting -> Started -> Stopping -> Stopped
//	                        Started -> Swapping -> Started
//
// together with the service signals, slots and object bindings. Transitions run on
// the worker the service is bound to and return a *worker.Task; call Wait for the
// blocking form. A transition requested from a task already running on that worker
// runs in place.
//
// # Object bindings
//
// Bindings declare by key which shared objects a service needs:
//
//	b.RegisterObject("image", service.AccessInput, true, false)
//	b.RegisterObjectGroup("views", service.AccessInput, 1, true, 4)
//	b.SetOutput("result", obj)
//
// Input and InOut bindings hold an object id and resolve it through the object
// registry, so a removed object surfaces as ErrExpiredObject. Output bindings own
// their object until SetOutput(key, nil). Start fails with ErrMissingObject while a
// required Input or InOut binding does not resolve.
//
// # Auto-connections
//
// At start every resolved binding declared with autoConnect is wired according to
// the AutoConnections map of the service, defaulting to the object's "modified"
// signal feeding the "update" slot. Stop disconnects them, along with every
// connection registered through Track.
//
// # Failure semantics
//
// A failing hook is returned through the task and recorded as the last error, but
// the transition still completes: a failed Starting leaves the service Started.
// Call Stop before retrying.
package service
