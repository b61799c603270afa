package natsbridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/slotbus/errors"
)

// Codec names accepted by CodecByName
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Codec encodes envelopes and the signal arguments they carry. Every bridge on
// a subject must use the same codec.
type Codec interface {
	Name() string
	// Marshal and Unmarshal encode a single argument value
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// EncodeEnvelope writes env with its Args embedded as raw encoded values
	EncodeEnvelope(env Envelope) ([]byte, error)
	DecodeEnvelope(data []byte) (Envelope, error)
}

// JSONCodec is the default codec. Envelopes stay readable with nats sub.
var JSONCodec Codec = rawCodec[json.RawMessage]{
	name:      CodecJSON,
	marshal:   json.Marshal,
	unmarshal: json.Unmarshal,
}

// MsgpackCodec is a compact binary codec for high rate signals
var MsgpackCodec Codec = rawCodec[msgpack.RawMessage]{
	name:      CodecMsgpack,
	marshal:   msgpack.Marshal,
	unmarshal: msgpack.Unmarshal,
}

// CodecByName resolves a configured codec name. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", CodecJSON:
		return JSONCodec, nil
	case CodecMsgpack:
		return MsgpackCodec, nil
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown codec %q", errors.ErrConfiguration, name),
			"natsbridge", "CodecByName", "resolve codec")
	}
}

type wireEnvelope[R ~[]byte] struct {
	ID        string    `json:"id" msgpack:"id"`
	Origin    string    `json:"origin" msgpack:"origin"`
	Signal    string    `json:"signal" msgpack:"signal"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Args      []R       `json:"args" msgpack:"args"`
}

// rawCodec embeds pre-encoded arguments through the raw message type of the
// underlying encoding so they are decoded lazily into the signal types.
type rawCodec[R ~[]byte] struct {
	name      string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

func (c rawCodec[R]) Name() string { return c.name }

func (c rawCodec[R]) Marshal(v any) ([]byte, error) { return c.marshal(v) }

func (c rawCodec[R]) Unmarshal(data []byte, v any) error { return c.unmarshal(data, v) }

func (c rawCodec[R]) EncodeEnvelope(env Envelope) ([]byte, error) {
	w := wireEnvelope[R]{
		ID:        env.ID,
		Origin:    env.Origin,
		Signal:    env.Signal,
		Timestamp: env.Timestamp,
		Args:      make([]R, len(env.Args)),
	}
	for i, a := range env.Args {
		w.Args[i] = R(a)
	}
	return c.marshal(w)
}

func (c rawCodec[R]) DecodeEnvelope(data []byte) (Envelope, error) {
	var w wireEnvelope[R]
	if err := c.unmarshal(data, &w); err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		ID:        w.ID,
		Origin:    w.Origin,
		Signal:    w.Signal,
		Timestamp: w.Timestamp,
		Args:      make([][]byte, len(w.Args)),
	}
	for i, a := range w.Args {
		env.Args[i] = []byte(a)
	}
	return env, nil
}
