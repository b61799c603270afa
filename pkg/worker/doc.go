// Package worker provides the serial task queue every slotbus service runs on.
//
// # Overview
//
// A Worker owns one goroutine that drains an unbounded FIFO queue. Tasks posted to
// the same Worker never overlap and run strictly in submission order; different
// Workers run in parallel. Several services may share one Worker, which is how the
// runtime confines mutation of a service's state without locks.
//
//	w := worker.NewWorker("io")
//	_ = w.Start(ctx)
//
//	task := w.Post(func(ctx context.Context) error {
//	    return svc.Reload(ctx)
//	})
//	if err := task.Wait(ctx); err != nil {
//	    ...
//	}
//
// # Re-entrancy
//
// Every task runs with a context carrying its Worker (FromContext). PostSync and
// PostOrRun check it: a synchronous call issued from a task already running on the
// same Worker executes in place, since queueing it would deadlock behind itself.
//
// # Tasks
//
// Task is a single-assignment future with states Waiting, Running, Canceling,
// Canceled and Finished. Cancel on a waiting task resolves it with ErrTaskCanceled and
// it never runs. Cancel on a running task only cancels the task context; the function
// runs to completion and the task ends Canceled. Panics inside a task are recovered
// into the task error.
//
// # Shutdown
//
// Stop refuses new tasks, runs OnStop listeners (the dispatch layer uses them to drop
// connections to slots bound to the worker), drains what is queued and waits for the
// goroutine to exit. Cancelling the Start context instead fails everything queued with
// ErrWorkerStopped. Stop must not be called from a task on the same Worker; it would
// wait for itself until the timeout.
//
// # Observability
//
// Statistics are always tracked with atomics (Stats). WithMetricsRegistry adds
// Prometheus queue depth, posted/processed/failed/canceled counters and a task
// duration histogram.
//
// # Registry
//
// Registry maps names to started Workers. Default returns the process-wide "default"
// worker services fall back to when their configuration names none.
package worker
