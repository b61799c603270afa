// Package dispatch implements named signals and slots with runtime-checked
// signatures.
//
// A Signal carries a fixed list of argument types. A Slot wraps any Go function;
// its signature is the function's parameter list minus an optional leading
// context.Context. Connect checks the signatures once: the slot may consume a prefix
// of the signal arguments and each consumed argument must be assignable to the slot
// parameter. Extra arguments are dropped at call time.
//
//	modified := dispatch.NewSignal("modified", dispatch.TypeOf[string]())
//	update := dispatch.MustSlot("update", func(ctx context.Context, key string) error {
//	    return svc.refresh(ctx, key)
//	})
//	update.SetWorker(w)
//	conn, err := modified.Connect(update)
//
// Emit calls every connected slot on the calling goroutine in connection order and
// is meant for use inside a task of the worker that owns the slots. AsyncEmit posts
// one task per connection onto the slot's worker; for a given worker these tasks run
// in emission order whichever signal produced them.
//
// A Connection can be blocked. Block returns a Blocker that restores the previous
// state on Release; WithBlocked is the scoped form. A service that mutates an object it
// also observes blocks its own connection around the mutation so the change does not
// echo back to it.
//
// Signals and Slots are the per-owner runtime tables resolving string keys, which is
// what proxy connections and configuration use to wire owners without compile-time
// references.
package dispatch
