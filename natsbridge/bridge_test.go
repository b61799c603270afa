package natsbridge

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/pkg/worker"
)

const testTimeout = 5 * time.Second

// memTransport delivers published messages synchronously to local subscribers
type memTransport struct {
	mu        sync.Mutex
	subs      map[string][]*memSub
	published []string
	fail      error
}

type memSub struct {
	t       *memTransport
	subject string
	handler func(context.Context, []byte)
	active  bool
}

func (s *memSub) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.active = false
	return nil
}

func newMemTransport() *memTransport {
	return &memTransport{subs: make(map[string][]*memSub)}
}

func (t *memTransport) Publish(ctx context.Context, subject string, data []byte) error {
	t.mu.Lock()
	if t.fail != nil {
		t.mu.Unlock()
		return t.fail
	}
	t.published = append(t.published, subject)
	var handlers []func(context.Context, []byte)
	for _, s := range t.subs[subject] {
		if s.active {
			handlers = append(handlers, s.handler)
		}
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(ctx, data)
	}
	return nil
}

func (t *memTransport) Subscribe(_ context.Context, subject string, handler func(context.Context, []byte)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &memSub{t: t, subject: subject, handler: handler, active: true}
	t.subs[subject] = append(t.subs[subject], s)
	return s, nil
}

func (t *memTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.published)
}

type reading struct {
	Sensor string  `json:"sensor"`
	Value  float64 `json:"value"`
}

// sink collects the arguments a signal delivers to a slot
func sink(t *testing.T, sig *dispatch.Signal, w *worker.Worker) <-chan []any {
	t.Helper()
	got := make(chan []any, 16)
	slot, err := dispatch.NewSlot("sink", func(name string, r reading) {
		got <- []any{name, r}
	})
	require.NoError(t, err)
	slot.SetWorker(w)
	_, err = sig.Connect(slot)
	require.NoError(t, err)
	return got
}

func startWorker(t *testing.T) *worker.Worker {
	t.Helper()
	w := worker.NewWorker("test")
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(testTimeout) })
	return w
}

func TestBridge_ExportImportBetweenBridges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	transport := newMemTransport()
	w := startWorker(t)

	sender, err := New(transport, WithSubjectPrefix("slotbus"), WithWorker(w))
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := New(transport, WithSubjectPrefix("slotbus"))
	require.NoError(t, err)
	defer receiver.Close()

	local := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	remote := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	got := sink(t, remote, w)

	_, err = sender.Export(local, "readings")
	require.NoError(t, err)
	require.NoError(t, receiver.Import("readings", remote))

	require.NoError(t, local.Emit(ctx, "kitchen", reading{Sensor: "t1", Value: 21.5}))

	select {
	case args := <-got:
		assert.Equal(t, []any{"kitchen", reading{Sensor: "t1", Value: 21.5}}, args)
	case <-ctx.Done():
		t.Fatal("imported signal was not emitted")
	}
	assert.Equal(t, []Route{{Direction: DirectionOut, Subject: "slotbus.readings", Signal: "reading"}}, sender.Routes())
	assert.Equal(t, []Route{{Direction: DirectionIn, Subject: "slotbus.readings", Signal: "reading"}}, receiver.Routes())
}

func TestBridge_IgnoresOwnEnvelopes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	transport := newMemTransport()
	w := startWorker(t)

	b, err := New(transport, WithWorker(w))
	require.NoError(t, err)
	defer b.Close()

	sig := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	got := sink(t, sig, w)
	_, err = b.Export(sig, "loop")
	require.NoError(t, err)
	require.NoError(t, b.Import("loop", sig))

	require.NoError(t, sig.Emit(ctx, "a", reading{}))
	assert.Len(t, got, 1, "only the local emission reaches the sink")
	assert.Equal(t, 1, transport.count())
}

func TestBridge_RateLimitDrops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	transport := newMemTransport()

	b, err := New(transport, WithRateLimit(0.001, 2))
	require.NoError(t, err)
	defer b.Close()

	sig := dispatch.NewSignal("n", dispatch.TypeOf[int]())
	_, err = b.Export(sig, "numbers")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, sig.Emit(ctx, i))
	}
	assert.Equal(t, 2, transport.count(), "the burst passes and the rest is dropped")
}

func TestBridge_PublishFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	transport := newMemTransport()
	transport.fail = stderrors.New("broken pipe")

	b, err := New(transport)
	require.NoError(t, err)
	defer b.Close()

	sig := dispatch.NewSignal("n", dispatch.TypeOf[int]())
	_, err = b.Export(sig, "numbers")
	require.NoError(t, err)

	err = sig.Emit(ctx, 1)
	assert.True(t, errors.IsTransient(err))
}

func TestBridge_DropsUndecodableEnvelopes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	transport := newMemTransport()
	w := startWorker(t)

	b, err := New(transport)
	require.NoError(t, err)
	defer b.Close()

	sig := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	got := sink(t, sig, w)
	require.NoError(t, b.Import("in", sig))

	bad := [][]byte{
		[]byte("not json"),
		mustEnvelope(t, JSONCodec, "x"),                       // too few arguments
		mustEnvelope(t, JSONCodec, 12, reading{Sensor: "s"}), // wrong type
	}
	for _, data := range bad {
		require.NoError(t, transport.Publish(ctx, "in", data))
	}
	require.NoError(t, transport.Publish(ctx, "in", mustEnvelope(t, JSONCodec, "ok", reading{Sensor: "s", Value: 1})))

	select {
	case args := <-got:
		assert.Equal(t, "ok", args[0])
	case <-ctx.Done():
		t.Fatal("valid envelope was not emitted")
	}
	assert.Empty(t, got)
}

func TestBridge_ArgumentChecks(t *testing.T) {
	b, err := New(newMemTransport())
	require.NoError(t, err)

	sig := dispatch.NewSignal("n", dispatch.TypeOf[int]())
	for _, subject := range []string{"", "a.*", "a.>", ".a", "a b"} {
		_, err := b.Export(sig, subject)
		assert.ErrorIs(t, err, errors.ErrConfiguration, subject)
		assert.ErrorIs(t, b.Import(subject, sig), errors.ErrConfiguration, subject)
	}
	_, err = b.Export(nil, "ok")
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	_, err = New(nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err = b.Export(sig, "late")
	assert.Error(t, err)
}

func TestBridge_CloseEndsRoutes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	transport := newMemTransport()

	b, err := New(transport)
	require.NoError(t, err)

	sig := dispatch.NewSignal("n", dispatch.TypeOf[int]())
	conn, err := b.Export(sig, "numbers")
	require.NoError(t, err)
	require.NoError(t, b.Import("other", sig))
	require.NoError(t, b.Close())

	assert.True(t, conn.Expired())
	assert.Equal(t, 0, sig.NumConnections())
	require.NoError(t, sig.Emit(ctx, 1))
	assert.Equal(t, 0, transport.count())
}

func mustEnvelope(t *testing.T, codec Codec, args ...any) []byte {
	t.Helper()
	env := Envelope{ID: "e", Origin: "elsewhere", Signal: "reading", Timestamp: time.Now()}
	for _, a := range args {
		raw, err := codec.Marshal(a)
		require.NoError(t, err)
		env.Args = append(env.Args, raw)
	}
	data, err := codec.EncodeEnvelope(env)
	require.NoError(t, err)
	return data
}
