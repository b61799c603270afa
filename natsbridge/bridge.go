package natsbridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/metric"
	"github.com/c360/slotbus/pkg/worker"
)

// Directions used in metric labels and route listings
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

var (
	contextType = dispatch.TypeOf[context.Context]()
	errorType   = dispatch.TypeOf[error]()
)

// Subscription is an active import
type Subscription interface {
	Unsubscribe() error
}

// Transport carries envelopes between processes. *Client implements it over NATS.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (Subscription, error)
}

// Envelope is one signal emission. Args holds each argument encoded with the
// bridge codec.
type Envelope struct {
	ID        string
	Origin    string
	Signal    string
	Timestamp time.Time
	Args      [][]byte
}

// Route describes one export or import
type Route struct {
	Direction string
	Subject   string
	Signal    string
}

type route struct {
	Route
	conn *dispatch.Connection
	sub  Subscription
}

// Bridge extends proxy channels across processes. An exported signal publishes
// every emission as an envelope; an imported subject re-emits every envelope
// on a local signal. Envelopes a bridge published itself are not re-imported by it.
type Bridge struct {
	id        string
	transport Transport
	prefix    string
	codec     Codec
	limiter   *rate.Limiter
	logger    *slog.Logger
	metrics   *metric.Metrics

	worker      *worker.Worker
	ownsWorker  bool
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	routes      []*route
	closed      bool
	rateLimit   rate.Limit
	burst       int
	rateEnabled bool
}

// Option configures a Bridge
type Option func(*Bridge)

// WithSubjectPrefix prepends prefix and a dot to every subject
func WithSubjectPrefix(prefix string) Option {
	return func(b *Bridge) { b.prefix = strings.TrimSuffix(prefix, ".") }
}

// WithRateLimit caps outbound publishes at perSecond with the given burst.
// Emissions over the limit are dropped. perSecond <= 0 disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(b *Bridge) {
		b.rateEnabled = perSecond > 0
		b.rateLimit = rate.Limit(perSecond)
		b.burst = max(burst, 1)
	}
}

// WithCodec selects the envelope encoding. The default is JSONCodec.
func WithCodec(c Codec) Option {
	return func(b *Bridge) { b.codec = c }
}

// WithLogger sets the bridge logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics records bridged and dropped messages
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithWorker runs export slots on w instead of a private worker
func WithWorker(w *worker.Worker) Option {
	return func(b *Bridge) { b.worker = w }
}

// WithID sets the origin id stamped on published envelopes
func WithID(id string) Option {
	return func(b *Bridge) { b.id = id }
}

// New creates a bridge over transport
func New(transport Transport, opts ...Option) (*Bridge, error) {
	if transport == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil transport", errors.ErrConfiguration),
			"Bridge", "New", "check transport")
	}

	b := &Bridge{transport: transport}
	for _, opt := range opts {
		opt(b)
	}
	if b.id == "" {
		b.id = uuid.NewString()
	}
	if b.codec == nil {
		b.codec = JSONCodec
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("bridge", b.id)
	if b.rateEnabled {
		b.limiter = rate.NewLimiter(b.rateLimit, b.burst)
	}
	if b.worker == nil {
		b.worker = worker.NewWorker("natsbridge", worker.WithLogger(b.logger))
		if err := b.worker.Start(context.Background()); err != nil {
			return nil, errors.Wrap(err, "Bridge", "New", "start worker")
		}
		b.ownsWorker = true
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// ID returns the origin id of the bridge
func (b *Bridge) ID() string { return b.id }

// Subject returns the wire subject for a relative subject
func (b *Bridge) Subject(subject string) string {
	if b.prefix == "" {
		return subject
	}
	return b.prefix + "." + subject
}

func validSubject(subject string) bool {
	if subject == "" || strings.HasPrefix(subject, ".") || strings.HasSuffix(subject, ".") {
		return false
	}
	return !strings.ContainsAny(subject, " \t\r\n*>")
}

// Export publishes every emission of sig on subject. The returned connection
// ends the export when disconnected.
func (b *Bridge) Export(sig *dispatch.Signal, subject string) (*dispatch.Connection, error) {
	if sig == nil || !validSubject(subject) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: export needs a signal and a subject, got %q",
			errors.ErrConfiguration, subject), "Bridge", "Export", "check arguments")
	}
	if err := b.checkOpen("Export"); err != nil {
		return nil, err
	}

	full := b.Subject(subject)
	sigTypes := sig.Signature()
	in := append([]reflect.Type{contextType}, sigTypes...)
	fnType := reflect.FuncOf(in, []reflect.Type{errorType}, false)
	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		ctx := args[0].Interface().(context.Context)
		values := make([]any, len(args)-1)
		for i, a := range args[1:] {
			values[i] = a.Interface()
		}
		err := b.publish(ctx, full, sig.Key(), values)
		if err == nil {
			return []reflect.Value{reflect.Zero(errorType)}
		}
		return []reflect.Value{reflect.ValueOf(&err).Elem()}
	})

	slot, err := dispatch.NewSlot("natsbridge:"+full, fn.Interface())
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "Export", "build slot")
	}
	slot.SetWorker(b.worker)
	slot.SetMetrics(b.metrics)

	conn, err := sig.Connect(slot)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "Export", "connect "+sig.Key())
	}

	b.mu.Lock()
	b.routes = append(b.routes, &route{
		Route: Route{Direction: DirectionOut, Subject: full, Signal: sig.Key()},
		conn:  conn,
	})
	b.mu.Unlock()

	b.logger.Info("signal exported", "signal", sig.Key(), "subject", full)
	return conn, nil
}

// Import emits sig for every envelope received on subject. The envelope
// arguments are decoded into the signal argument types.
func (b *Bridge) Import(subject string, sig *dispatch.Signal) error {
	if sig == nil || !validSubject(subject) {
		return errors.WrapInvalid(fmt.Errorf("%w: import needs a signal and a subject, got %q",
			errors.ErrConfiguration, subject), "Bridge", "Import", "check arguments")
	}
	if err := b.checkOpen("Import"); err != nil {
		return err
	}

	full := b.Subject(subject)
	sigTypes := sig.Signature()
	sub, err := b.transport.Subscribe(b.ctx, full, func(_ context.Context, data []byte) {
		b.deliver(full, sig, sigTypes, data)
	})
	if err != nil {
		return errors.Wrap(err, "Bridge", "Import", "subscribe "+full)
	}

	b.mu.Lock()
	b.routes = append(b.routes, &route{
		Route: Route{Direction: DirectionIn, Subject: full, Signal: sig.Key()},
		sub:   sub,
	})
	b.mu.Unlock()

	b.logger.Info("subject imported", "signal", sig.Key(), "subject", full)
	return nil
}

// Routes lists the exports and imports in creation order. Exports whose
// connection was disconnected are left out.
func (b *Bridge) Routes() []Route {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Route, 0, len(b.routes))
	for _, r := range b.routes {
		if r.conn != nil && r.conn.Expired() {
			continue
		}
		out = append(out, r.Route)
	}
	return out
}

// Close ends every export and import
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	routes := b.routes
	b.routes = nil
	b.mu.Unlock()

	b.cancel()
	var errs []error
	for _, r := range routes {
		if r.conn != nil {
			r.conn.Disconnect()
		}
		if r.sub != nil {
			if err := r.sub.Unsubscribe(); err != nil {
				errs = append(errs, fmt.Errorf("unsubscribe %s: %w", r.Subject, err))
			}
		}
	}
	if b.ownsWorker {
		if err := b.worker.Stop(5 * time.Second); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) checkOpen(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.WrapInvalid(stderrors.New("bridge is closed"), "Bridge", method, "check bridge state")
	}
	return nil
}

func (b *Bridge) publish(ctx context.Context, subject, key string, args []any) error {
	if b.limiter != nil && !b.limiter.Allow() {
		b.drop(DirectionOut, subject, "rate_limited")
		return nil
	}

	env := Envelope{
		ID:        uuid.NewString(),
		Origin:    b.id,
		Signal:    key,
		Timestamp: time.Now().UTC(),
		Args:      make([][]byte, len(args)),
	}
	for i, a := range args {
		raw, err := b.codec.Marshal(a)
		if err != nil {
			b.drop(DirectionOut, subject, "encode")
			return errors.WrapInvalid(err, "Bridge", "Export", fmt.Sprintf("encode argument %d of %s", i, key))
		}
		env.Args[i] = raw
	}
	data, err := b.codec.EncodeEnvelope(env)
	if err != nil {
		b.drop(DirectionOut, subject, "encode")
		return errors.WrapInvalid(err, "Bridge", "Export", "encode envelope")
	}

	if err := b.transport.Publish(ctx, subject, data); err != nil {
		b.drop(DirectionOut, subject, "publish")
		return errors.WrapTransient(err, "Bridge", "Export", "publish "+subject)
	}
	if b.metrics != nil {
		b.metrics.RecordBridgeMessage(DirectionOut, subject)
	}
	return nil
}

func (b *Bridge) deliver(subject string, sig *dispatch.Signal, sigTypes dispatch.Signature, data []byte) {
	env, err := b.codec.DecodeEnvelope(data)
	if err != nil {
		b.logger.Warn("dropping malformed envelope", "subject", subject, "error", err)
		b.drop(DirectionIn, subject, "decode")
		return
	}
	if env.Origin == b.id {
		return
	}
	if len(env.Args) < len(sigTypes) {
		b.logger.Warn("dropping envelope with too few arguments",
			"subject", subject, "id", env.ID, "got", len(env.Args), "want", len(sigTypes))
		b.drop(DirectionIn, subject, "arity")
		return
	}

	args := make([]any, len(sigTypes))
	for i, t := range sigTypes {
		v := reflect.New(t)
		if err := b.codec.Unmarshal(env.Args[i], v.Interface()); err != nil {
			b.logger.Warn("dropping envelope with undecodable argument",
				"subject", subject, "id", env.ID, "index", i, "type", t.String(), "error", err)
			b.drop(DirectionIn, subject, "decode")
			return
		}
		args[i] = v.Elem().Interface()
	}

	if err := sig.AsyncEmit(args...); err != nil {
		b.logger.Warn("imported emission not delivered", "subject", subject, "id", env.ID, "error", err)
		b.drop(DirectionIn, subject, "emit")
		return
	}
	if b.metrics != nil {
		b.metrics.RecordBridgeMessage(DirectionIn, subject)
	}
}

func (b *Bridge) drop(direction, subject, reason string) {
	if b.metrics != nil {
		b.metrics.RecordBridgeDrop(direction, subject, reason)
	}
}
