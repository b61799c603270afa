package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/slotbus/errors"
)

func TestTask_States(t *testing.T) {
	w := startedWorker(t, "states")

	started := make(chan struct{})
	release := make(chan struct{})
	running := w.Post(func(_ context.Context) error {
		close(started)
		<-release
		return nil
	})
	waiting := w.Post(func(_ context.Context) error { return nil })

	<-started
	assert.Equal(t, Running, running.State())
	assert.Equal(t, Waiting, waiting.State())

	_, err := waiting.Result()
	assert.ErrorIs(t, err, errors.ErrTaskNotStarted)

	close(release)
	require.NoError(t, WaitAll(context.Background(), running, waiting))
	assert.Equal(t, Finished, running.State())
	assert.Equal(t, Finished, waiting.State())
}

func TestTask_CancelWaiting(t *testing.T) {
	w := startedWorker(t, "cancel-waiting")

	release := make(chan struct{})
	blocker := w.Post(func(_ context.Context) error {
		<-release
		return nil
	})

	ran := false
	pending := w.Post(func(_ context.Context) error {
		ran = true
		return nil
	})

	assert.True(t, pending.Cancel())
	assert.Equal(t, Canceled, pending.State())
	assert.True(t, pending.CancelRequested())
	assert.ErrorIs(t, pending.Err(), errors.ErrTaskCanceled)

	close(release)
	require.NoError(t, blocker.Wait(context.Background()))
	require.NoError(t, w.PostSync(context.Background(), func(_ context.Context) error { return nil }))
	assert.False(t, ran, "canceled task must never run")
	assert.Equal(t, int64(1), w.Stats().Canceled)
}

func TestTask_CancelRunning(t *testing.T) {
	w := startedWorker(t, "cancel-running")

	started := make(chan struct{})
	sawCancel := make(chan bool, 1)
	var task *Task
	task = w.Post(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel <- task.CancelRequested()
		return ctx.Err()
	})

	<-started
	assert.True(t, task.Cancel())

	err := task.Wait(context.Background())
	assert.ErrorIs(t, err, errors.ErrTaskCanceled)
	assert.Equal(t, Canceled, task.State())
	assert.True(t, <-sawCancel)
}

func TestTask_CancelRunningCompletes(t *testing.T) {
	w := startedWorker(t, "cooperative")

	started := make(chan struct{})
	release := make(chan struct{})
	completed := false
	task := w.Post(func(_ context.Context) error {
		close(started)
		<-release
		completed = true
		return nil
	})

	<-started
	require.True(t, task.Cancel())
	assert.Equal(t, Canceling, task.State())
	close(release)

	_ = task.Wait(context.Background())
	assert.True(t, completed, "running task completes even when cancel is requested")
	assert.Equal(t, Canceled, task.State())
}

func TestTask_CancelFinished(t *testing.T) {
	task := Completed(42)
	assert.False(t, task.Cancel())
	assert.Equal(t, Finished, task.State())

	v, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestTask_Failed(t *testing.T) {
	task := Failed(errors.ErrMissingObject)
	select {
	case <-task.Done():
	default:
		t.Fatal("failed task should already be resolved")
	}
	assert.ErrorIs(t, task.Wait(context.Background()), errors.ErrMissingObject)
}

func TestTask_WaitContext(t *testing.T) {
	w := startedWorker(t, "wait-ctx")

	release := make(chan struct{})
	defer close(release)
	task := w.Post(func(_ context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.DeadlineExceeded)
}

func TestTask_ResultValue(t *testing.T) {
	w := startedWorker(t, "values")

	task := w.PostValue(func(_ context.Context) (any, error) { return "hello", nil })
	v, err := task.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestWaitAll_JoinsErrors(t *testing.T) {
	err := WaitAll(context.Background(),
		Completed(nil),
		Failed(errors.ErrUnknownKey),
		nil,
		Failed(errors.ErrTypeMismatch),
	)
	assert.ErrorIs(t, err, errors.ErrUnknownKey)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Waiting:   "waiting",
		Running:   "running",
		Canceling: "canceling",
		Canceled:  "canceled",
		Finished:  "finished",
		State(99): "unknown",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
