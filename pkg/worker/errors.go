package worker

import "errors"

// Sentinel errors for worker operations
var (
	// ErrWorkerAlreadyStarted indicates Start() was called on an already-started worker
	ErrWorkerAlreadyStarted = errors.New("worker already started")

	// ErrNilTask indicates a nil task function was posted
	ErrNilTask = errors.New("task function cannot be nil")

	// ErrStopTimeout indicates the worker didn't drain within the timeout
	ErrStopTimeout = errors.New("timeout waiting for worker to stop")
)
