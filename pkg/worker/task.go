package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/slotbus/errors"
)

// State is the execution state of a Task
type State int32

const (
	// Waiting means the task is queued and has not started
	Waiting State = iota
	// Running means the task function is executing
	Running
	// Canceling means cancellation was requested while the task was running
	Canceling
	// Canceled means the task was canceled before or while running
	Canceled
	// Finished means the task function returned
	Finished
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Canceling:
		return "canceling"
	case Canceled:
		return "canceled"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Func is the unit of work executed by a Worker
type Func func(ctx context.Context) (any, error)

// Task is a handle on work submitted to a Worker. It resolves exactly once.
type Task struct {
	fn Func

	mu              sync.Mutex
	state           State
	cancelRequested bool
	cancel          context.CancelFunc
	result          any
	err             error
	done            chan struct{}
}

func newTask(fn Func) *Task {
	return &Task{
		fn:   fn,
		done: make(chan struct{}),
	}
}

// Completed returns a task already resolved with value
func Completed(value any) *Task {
	t := newTask(nil)
	t.state = Finished
	t.result = value
	close(t.done)
	return t
}

// Failed returns a task already resolved with err
func Failed(err error) *Task {
	t := newTask(nil)
	t.state = Finished
	t.err = err
	close(t.done)
	return t
}

// Done returns a channel closed when the task resolves
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task resolves or ctx is done and returns the task error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get waits for the task and returns its result.
func (t *Task) Get(ctx context.Context) (any, error) {
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Result()
}

// Err returns the task error; nil while the task is unresolved.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Result returns the value and error the task resolved with. Before resolution
// it returns errors.ErrTaskNotStarted.
func (t *Task) Result() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Finished, Canceled:
		return t.result, t.err
	default:
		return nil, errors.ErrTaskNotStarted
	}
}

// State returns the current state
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CancelRequested reports whether Cancel was called
func (t *Task) CancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// Cancel cancels a waiting task immediately. A running task moves to Canceling and
// its context is canceled; it still runs to completion. Returns false when the task
// already resolved.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Waiting:
		t.cancelRequested = true
		t.state = Canceled
		t.err = errors.ErrTaskCanceled
		close(t.done)
		return true
	case Running:
		t.cancelRequested = true
		t.state = Canceling
		if t.cancel != nil {
			t.cancel()
		}
		return true
	default:
		return false
	}
}

// run executes the task on the calling goroutine. It reports false when the task
// had been canceled before it started.
func (t *Task) run(ctx context.Context) bool {
	t.mu.Lock()
	if t.state != Waiting {
		t.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.state = Running
	t.mu.Unlock()

	result, err := safeCall(runCtx, t.fn)
	cancel()

	t.mu.Lock()
	if t.state == Canceling {
		t.state = Canceled
		if err == nil || errors.Is(err, context.Canceled) {
			err = errors.ErrTaskCanceled
		} else {
			err = errors.Join(errors.ErrTaskCanceled, err)
		}
	} else {
		t.state = Finished
	}
	t.result = result
	t.err = err
	close(t.done)
	t.mu.Unlock()
	return true
}

// fail resolves a waiting task with err without running it.
func (t *Task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Waiting {
		return
	}
	t.state = Canceled
	t.err = err
	close(t.done)
}

func safeCall(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task: %v", r)
		}
	}()
	return fn(ctx)
}

// WaitAll waits for every task and returns their errors joined.
func WaitAll(ctx context.Context, tasks ...*Task) error {
	var errs []error
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if err := t.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
