package natsbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
)

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]Codec{"": JSONCodec, "json": JSONCodec, "MsgPack": MsgpackCodec} {
		got, err := CodecByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want.Name(), got.Name(), name)
	}

	_, err := CodecByName("protobuf")
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestCodec_EnvelopeRoundTrip(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, codec := range []Codec{JSONCodec, MsgpackCodec} {
		t.Run(codec.Name(), func(t *testing.T) {
			data := mustEnvelope(t, codec, "kitchen", reading{Sensor: "t1", Value: 21.5})

			env, err := codec.DecodeEnvelope(data)
			require.NoError(t, err)
			assert.Equal(t, "e", env.ID)
			assert.Equal(t, "elsewhere", env.Origin)
			require.Len(t, env.Args, 2)

			var name string
			require.NoError(t, codec.Unmarshal(env.Args[0], &name))
			assert.Equal(t, "kitchen", name)
			var r reading
			require.NoError(t, codec.Unmarshal(env.Args[1], &r))
			assert.Equal(t, reading{Sensor: "t1", Value: 21.5}, r)

			raw, err := codec.EncodeEnvelope(Envelope{ID: "x", Timestamp: stamp})
			require.NoError(t, err)
			back, err := codec.DecodeEnvelope(raw)
			require.NoError(t, err)
			assert.True(t, stamp.Equal(back.Timestamp))
			assert.Empty(t, back.Args)
		})
	}
}

func TestBridge_MsgpackBetweenBridges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	transport := newMemTransport()
	w := startWorker(t)

	sender, err := New(transport, WithCodec(MsgpackCodec))
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := New(transport, WithCodec(MsgpackCodec))
	require.NoError(t, err)
	defer receiver.Close()
	jsonReceiver, err := New(transport)
	require.NoError(t, err)
	defer jsonReceiver.Close()

	local := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	remote := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	mismatched := dispatch.NewSignal("reading", dispatch.TypeOf[string](), dispatch.TypeOf[reading]())
	got := sink(t, remote, w)
	wrong := sink(t, mismatched, w)

	_, err = sender.Export(local, "readings")
	require.NoError(t, err)
	require.NoError(t, receiver.Import("readings", remote))
	require.NoError(t, jsonReceiver.Import("readings", mismatched))

	require.NoError(t, local.Emit(ctx, "hall", reading{Sensor: "t2", Value: 19}))

	select {
	case args := <-got:
		assert.Equal(t, []any{"hall", reading{Sensor: "t2", Value: 19}}, args)
	case <-ctx.Done():
		t.Fatal("imported signal was not emitted")
	}
	assert.Empty(t, wrong, "a json bridge cannot read msgpack envelopes")
}
