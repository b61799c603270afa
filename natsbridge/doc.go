// Package natsbridge carries signal emissions between processes over NATS.
//
// A Bridge is the out-of-process counterpart of a proxy channel. Export connects
// a local signal to a generated slot that publishes every emission as an
// Envelope; Import subscribes to a subject and re-emits each envelope on a local
// signal after decoding the arguments into the signal's argument types.
//
//	client, _ := natsbridge.NewClient("nats://localhost:4222")
//	if err := client.Connect(ctx); err != nil { ... }
//	bridge, _ := natsbridge.New(client, natsbridge.WithSubjectPrefix("slotbus"))
//	conn, _ := bridge.Export(ticked, "ticks")      // publishes on slotbus.ticks
//	_ = bridge.Import("remote.ticks", remoteTicked) // emits remoteTicked
//
// Envelopes are JSON by default. WithCodec(MsgpackCodec) selects msgpack; both
// ends of a subject must agree on the codec.
//
// Outbound publishes can be rate limited; emissions over the limit are dropped and
// counted. Envelopes carry the id of the bridge that published them, and a bridge
// ignores its own envelopes, so exporting and importing the same subject does not
// loop.
//
// Client wraps one NATS connection with a circuit breaker: after repeated
// connection failures Connect fails fast until the backoff elapses.
package natsbridge
