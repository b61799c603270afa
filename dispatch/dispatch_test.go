package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/metric"
	"github.com/c360/slotbus/pkg/worker"
)

func newWorker(t *testing.T, name string) *worker.Worker {
	t.Helper()
	w := worker.NewWorker(name)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(time.Second) })
	return w
}

// flush waits until everything queued on w before the call has run
func flush(t *testing.T, w *worker.Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.PostSync(ctx, func(context.Context) error { return nil }))
}

func TestNewSlot_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		fn      any
		arity   int
		wantErr bool
	}{
		{"no args", func() {}, 0, false},
		{"context only", func(context.Context) error { return nil }, 0, false},
		{"context and args", func(context.Context, string, int) {}, 2, false},
		{"value result", func(a int) int { return a }, 1, false},
		{"value and error", func(a int) (int, error) { return a, nil }, 1, false},
		{"not a function", 42, 0, true},
		{"variadic", func(...int) {}, 0, true},
		{"bad second result", func() (int, int) { return 0, 0 }, 0, true},
		{"too many results", func() (int, int, error) { return 0, 0, nil }, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, err := NewSlot("s", tt.fn)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrSignatureMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.arity, slot.Arity())
		})
	}
}

func TestSignal_ConnectSignatureMismatch(t *testing.T) {
	sig := NewSignal("changed", TypeOf[string]())

	_, err := sig.Connect(MustSlot("int", func(int) {}))
	assert.ErrorIs(t, err, errors.ErrSignatureMismatch)
	assert.True(t, errors.IsInvalid(err))

	_, err = sig.Connect(MustSlot("too-many", func(string, int) {}))
	assert.ErrorIs(t, err, errors.ErrSignatureMismatch)

	assert.Equal(t, 0, sig.NumConnections())
}

func TestSignal_ArgumentLoss(t *testing.T) {
	sig := NewSignal("pair", TypeOf[string](), TypeOf[int]())

	var got []string
	prefix := MustSlot("prefix", func(s string) { got = append(got, "prefix:"+s) })
	none := MustSlot("none", func() { got = append(got, "none") })
	full := MustSlot("full", func(s string, n int) { got = append(got, fmt.Sprintf("full:%s:%d", s, n)) })

	for _, slot := range []*Slot{prefix, none, full} {
		_, err := sig.Connect(slot)
		require.NoError(t, err)
	}

	require.NoError(t, sig.Emit(context.Background(), "a", 1))
	assert.Equal(t, []string{"prefix:a", "none", "full:a:1"}, got)
}

func TestSignal_InterfaceAssignable(t *testing.T) {
	sig := NewSignal("err", TypeOf[*myErr]())
	var received error
	_, err := sig.Connect(MustSlot("as-error", func(e error) { received = e }))
	require.NoError(t, err)

	require.NoError(t, sig.Emit(context.Background(), &myErr{"x"}))
	assert.EqualError(t, received, "x")

	// nil is accepted for pointer types
	require.NoError(t, sig.Emit(context.Background(), nil))
}

type myErr struct{ msg string }

func (e *myErr) Error() string { return e.msg }

func TestSignal_EmitArgumentCheck(t *testing.T) {
	sig := NewSignal("typed", TypeOf[int]())
	assert.ErrorIs(t, sig.Emit(context.Background(), "nope"), errors.ErrSignatureMismatch)
	assert.ErrorIs(t, sig.Emit(context.Background()), errors.ErrSignatureMismatch)
	assert.ErrorIs(t, sig.AsyncEmit(1, 2), errors.ErrSignatureMismatch)
	assert.ErrorIs(t, sig.Emit(context.Background(), nil), errors.ErrSignatureMismatch)
}

func TestSignal_AlreadyConnected(t *testing.T) {
	sig := NewSignal("s")
	slot := MustSlot("slot", func() {})

	_, err := sig.Connect(slot)
	require.NoError(t, err)
	_, err = sig.Connect(slot)
	assert.ErrorIs(t, err, errors.ErrAlreadyConnected)
	assert.Equal(t, 1, sig.NumConnections())
}

func TestSignal_Disconnect(t *testing.T) {
	sig := NewSignal("s")
	calls := 0
	slot := MustSlot("slot", func() { calls++ })
	other := MustSlot("other", func() {})

	conn, err := sig.Connect(slot)
	require.NoError(t, err)

	// Absent connection is a no-op
	sig.Disconnect(other)
	assert.Equal(t, 1, sig.NumConnections())

	sig.Disconnect(slot)
	assert.True(t, conn.Expired())
	assert.Equal(t, 0, sig.NumConnections())
	assert.Equal(t, 0, slot.NumConnections())

	// Idempotent
	conn.Disconnect()
	sig.Disconnect(slot)

	require.NoError(t, sig.Emit(context.Background()))
	assert.Equal(t, 0, calls)

	// Reconnecting after disconnect is allowed
	_, err = sig.Connect(slot)
	require.NoError(t, err)
}

func TestSignal_EmitOrderAndErrors(t *testing.T) {
	sig := NewSignal("s", TypeOf[int]())
	var order []string
	boom := fmt.Errorf("boom")

	_, _ = sig.Connect(MustSlot("first", func(int) { order = append(order, "first") }))
	_, _ = sig.Connect(MustSlot("failing", func(int) error { order = append(order, "failing"); return boom }))
	_, _ = sig.Connect(MustSlot("last", func(int) { order = append(order, "last") }))

	err := sig.Emit(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "failing", "last"}, order)
}

func TestSignal_AsyncEmitRunsOnSlotWorker(t *testing.T) {
	w := newWorker(t, "consumer")
	sig := NewSignal("modified")

	ran := make(chan *worker.Worker, 1)
	slot := MustSlot("update", func(ctx context.Context) { ran <- worker.FromContext(ctx) })
	slot.SetWorker(w)
	_, err := sig.Connect(slot)
	require.NoError(t, err)

	require.NoError(t, sig.AsyncEmit())

	select {
	case got := <-ran:
		assert.Same(t, w, got)
	case <-time.After(2 * time.Second):
		t.Fatal("slot did not run")
	}
}

func TestSignal_AsyncEmitNoWorker(t *testing.T) {
	sig := NewSignal("s")
	_, err := sig.Connect(MustSlot("orphan", func() {}))
	require.NoError(t, err)

	assert.ErrorIs(t, sig.AsyncEmit(), errors.ErrNoWorker)
}

func TestSignal_FIFOAcrossSignals(t *testing.T) {
	w := newWorker(t, "shared")

	var mu sync.Mutex
	var order []string
	record := func(name string) func(int) {
		return func(i int) {
			mu.Lock()
			order = append(order, fmt.Sprintf("%s%d", name, i))
			mu.Unlock()
		}
	}

	s1, s2 := NewSignal("e1", TypeOf[int]()), NewSignal("e2", TypeOf[int]())
	slot1, slot2 := MustSlot("s1", record("a")), MustSlot("s2", record("b"))
	slot1.SetWorker(w)
	slot2.SetWorker(w)
	_, _ = s1.Connect(slot1)
	_, _ = s2.Connect(slot2)

	var want []string
	for i := 0; i < 50; i++ {
		require.NoError(t, s1.AsyncEmit(i))
		require.NoError(t, s2.AsyncEmit(i))
		want = append(want, fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i))
	}
	flush(t, w)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
}

func TestBlocker_SuppressesEmission(t *testing.T) {
	w := newWorker(t, "blocker")
	sig := NewSignal("modified")

	var mu sync.Mutex
	calls := 0
	slot := MustSlot("update", func() { mu.Lock(); calls++; mu.Unlock() })
	slot.SetWorker(w)
	conn, err := sig.Connect(slot)
	require.NoError(t, err)

	b := conn.Block()
	assert.True(t, conn.Blocked())
	require.NoError(t, sig.AsyncEmit())
	require.NoError(t, sig.Emit(context.Background()))
	flush(t, w)

	mu.Lock()
	assert.Equal(t, 0, calls, "blocked connection must not be invoked")
	mu.Unlock()

	b.Release()
	assert.False(t, conn.Blocked())
	require.NoError(t, sig.AsyncEmit())
	flush(t, w)

	mu.Lock()
	assert.Equal(t, 1, calls, "slot runs again once the blocker is released")
	mu.Unlock()
}

func TestBlocker_RestoresPriorState(t *testing.T) {
	sig := NewSignal("s")
	conn, err := sig.Connect(MustSlot("slot", func() {}))
	require.NoError(t, err)

	outer := conn.Block()
	inner := conn.Block()
	inner.Release()
	assert.True(t, conn.Blocked(), "inner release restores the outer block")

	// Release is idempotent
	inner.Release()
	assert.True(t, conn.Blocked())

	outer.Release()
	assert.False(t, conn.Blocked())
}

func TestConnection_WithBlockedOnPanic(t *testing.T) {
	sig := NewSignal("s")
	conn, err := sig.Connect(MustSlot("slot", func() {}))
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = conn.WithBlocked(func() error {
			require.True(t, conn.Blocked())
			panic("mutation failed")
		})
	})
	assert.False(t, conn.Blocked(), "block released on panic")

	err = conn.WithBlocked(func() error { return errors.ErrExpiredObject })
	assert.ErrorIs(t, err, errors.ErrExpiredObject)
	assert.False(t, conn.Blocked())
}

func TestWorkerStopDisconnectsSlots(t *testing.T) {
	w := worker.NewWorker("doomed")
	require.NoError(t, w.Start(context.Background()))

	sig := NewSignal("s")
	slot := MustSlot("slot", func() {})
	slot.SetWorker(w)
	conn, err := sig.Connect(slot)
	require.NoError(t, err)

	require.NoError(t, w.Stop(time.Second))
	assert.True(t, conn.Expired())
	assert.Equal(t, 0, sig.NumConnections())
}

func TestSlot_Rebind(t *testing.T) {
	first := newWorker(t, "first")
	second := worker.NewWorker("second")
	require.NoError(t, second.Start(context.Background()))

	sig := NewSignal("s")
	slot := MustSlot("slot", func() {})
	slot.SetWorker(first)
	slot.SetWorker(second)
	conn, err := sig.Connect(slot)
	require.NoError(t, err)

	// Stopping the old worker no longer affects the slot
	require.NoError(t, first.Stop(time.Second))
	assert.False(t, conn.Expired())

	require.NoError(t, second.Stop(time.Second))
	assert.True(t, conn.Expired())
}

func TestSlot_CallForms(t *testing.T) {
	w := newWorker(t, "calls")
	slot := MustSlot("double", func(ctx context.Context, n int) (int, error) {
		if n < 0 {
			return 0, fmt.Errorf("negative")
		}
		return n * 2, nil
	})
	slot.SetWorker(w)
	ctx := context.Background()

	require.NoError(t, slot.Run(ctx, 1))

	v, err := slot.Call(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	_, err = slot.Call(ctx, -1)
	assert.EqualError(t, err, "negative")

	// Extra arguments are dropped
	v, err = slot.Call(ctx, 5, "ignored")
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = slot.Call(ctx)
	assert.ErrorIs(t, err, errors.ErrSignatureMismatch)

	task := slot.AsyncCall(21)
	v, err = task.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	task = slot.AsyncRun(21)
	v, err = task.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, v)

	unbound := MustSlot("unbound", func() {})
	assert.ErrorIs(t, unbound.AsyncRun().Wait(ctx), errors.ErrNoWorker)
}

func TestSlot_PanicRecovered(t *testing.T) {
	slot := MustSlot("panicky", func() { panic("bad") })
	err := slot.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in slot")
}

func TestSlot_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	sig := NewSignal("s")
	slot := MustSlot("metered", func() {})
	sig.SetMetrics(registry.CoreMetrics())
	slot.SetMetrics(registry.CoreMetrics())
	_, _ = sig.Connect(slot)

	require.NoError(t, sig.Emit(context.Background()))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["slotbus_dispatch_emits_total"])
	assert.True(t, names["slotbus_dispatch_slot_invocations_total"])
}

func TestTables(t *testing.T) {
	signals := NewSignals()
	_, err := signals.Declare("modified")
	require.NoError(t, err)
	_, err = signals.Declare("modified")
	assert.ErrorIs(t, err, errors.ErrAlreadyRegistered)
	_, err = signals.Get("missing")
	assert.ErrorIs(t, err, errors.ErrUnknownKey)

	slots := NewSlots()
	update, err := slots.Declare("update", func() {})
	require.NoError(t, err)
	_, err = slots.Declare("update", func() {})
	assert.ErrorIs(t, err, errors.ErrAlreadyRegistered)
	_, err = slots.Declare("bad", 3)
	assert.ErrorIs(t, err, errors.ErrSignatureMismatch)

	w := newWorker(t, "tables")
	slots.SetWorker(w)
	assert.Same(t, w, update.Worker())

	sig, err := signals.Get("modified")
	require.NoError(t, err)
	_, err = sig.Connect(update)
	require.NoError(t, err)

	slots.DisconnectAll()
	assert.Equal(t, 0, sig.NumConnections())
	assert.Equal(t, []string{"update"}, slots.Keys())
	assert.Equal(t, []string{"modified"}, signals.Keys())
}
