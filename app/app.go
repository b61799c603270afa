package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/slotbus/config"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/health"
	"github.com/c360/slotbus/metric"
	"github.com/c360/slotbus/natsbridge"
	"github.com/c360/slotbus/objects"
	"github.com/c360/slotbus/pkg/worker"
	"github.com/c360/slotbus/proxy"
	"github.com/c360/slotbus/service"
	"github.com/c360/slotbus/types"
)

// App is the application context. It owns the object registry, the named
// workers, the service instances and the proxy channels, and tears them down
// together in Close.
type App struct {
	name    string
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	objects  *objects.Registry
	workers  *worker.Registry
	services *service.Registry
	proxy    *proxy.Proxy
	monitor  *health.Monitor

	mu     sync.Mutex
	waves  [][]string // start waves of the last StartAll, in start order
	trees  map[string]*types.ConfigTree
	closed bool

	wireMu  sync.Mutex
	links   []link
	watched map[string]*dispatch.Connection
}

// Option configures an App
type Option func(*App)

// WithLogger sets the logger shared by everything the app creates
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithMetricsRegistry sets the metrics registry
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(a *App) { a.metrics = r }
}

// WithServiceRegistry uses r for factories and instances, so factories can be
// registered before the app exists
func WithServiceRegistry(r *service.Registry) Option {
	return func(a *App) { a.services = r }
}

// WithName sets the name reported by Health
func WithName(name string) Option {
	return func(a *App) { a.name = name }
}

// New creates an application context. ctx bounds the lifetime of the workers.
func New(ctx context.Context, opts ...Option) *App {
	a := &App{
		name:    "slotbus",
		trees:   make(map[string]*types.ConfigTree),
		watched: make(map[string]*dispatch.Connection),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = metric.NewMetricsRegistry()
	}
	if a.services == nil {
		a.services = service.NewRegistry()
	}

	a.objects = objects.NewRegistry(a.logger)
	a.workers = worker.NewRegistry(ctx, a.logger, a.metrics)
	a.proxy = proxy.New(a.logger)
	a.monitor = health.NewMonitor()
	return a
}

// Objects returns the object registry
func (a *App) Objects() *objects.Registry { return a.objects }

// Workers returns the worker registry
func (a *App) Workers() *worker.Registry { return a.workers }

// Services returns the service registry
func (a *App) Services() *service.Registry { return a.services }

// Proxy returns the proxy channels
func (a *App) Proxy() *proxy.Proxy { return a.proxy }

// Metrics returns the metrics registry
func (a *App) Metrics() *metric.MetricsRegistry { return a.metrics }

// Logger returns the app logger
func (a *App) Logger() *slog.Logger { return a.logger }

// Dependencies returns what services created by this app are built with
func (a *App) Dependencies() service.Dependencies {
	return service.Dependencies{
		Objects:         a.objects,
		Workers:         a.workers,
		MetricsRegistry: a.metrics,
		Logger:          a.logger,
	}
}

// RegisterFactory registers a service type
func (a *App) RegisterFactory(typ string, f service.Factory) error {
	return a.services.RegisterFactory(typ, f)
}

// CreateService builds a service from its configuration tree and configures it.
// The tree must name a type; a missing uid gets a generated one. A service that
// fails to configure is destroyed and not registered.
func (a *App) CreateService(ctx context.Context, tree *types.ConfigTree, opts ...service.Option) (service.Service, error) {
	if err := tree.Require("type"); err != nil {
		return nil, errors.Wrap(err, "App", "CreateService", "check tree")
	}
	typ, _ := tree.Get("type")
	uid := tree.GetOr("uid", "")
	if uid == "" {
		uid = uuid.NewString()
	}

	svc, err := a.services.Create(typ, uid, a.Dependencies(), opts...)
	if err != nil {
		return nil, err
	}
	if err := svc.Configure(ctx, tree); err != nil {
		a.services.Remove(uid)
		_ = svc.Stop(ctx).Wait(ctx)
		_ = svc.Destroy()
		return nil, errors.Wrap(err, "App", "CreateService", "configure "+uid)
	}

	if err := a.watch(svc); err != nil {
		a.logger.Warn("service restarts will not restore its connections", "service", uid, "error", err)
	}
	if tree.Has("uid") {
		a.setTree(uid, tree)
	}
	a.logger.Debug("service created", "service", uid, "type", typ)
	return svc, nil
}

// Load applies a process configuration: it creates the declared workers and
// services, then wires the declared connections and proxy channels.
func (a *App) Load(ctx context.Context, cfg *config.Config) error {
	for _, w := range cfg.Workers {
		if _, err := a.workers.GetOrCreate(w.Name); err != nil {
			return errors.Wrap(err, "App", "Load", "create worker "+w.Name)
		}
	}
	specs, err := cfg.ServiceSpecs()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if !spec.Enabled {
			a.logger.Info("service disabled, skipping", "service", spec.UID, "type", spec.Type)
			continue
		}
		if err := spec.Validate(); err != nil {
			return err
		}
		if _, err := a.CreateService(ctx, spec.Tree); err != nil {
			return err
		}
	}
	for _, c := range cfg.Connections {
		if _, err := a.Connect(c.Signal.Service, c.Signal.Key, c.Slot.Service, c.Slot.Key); err != nil {
			return err
		}
	}
	for _, p := range cfg.Proxies {
		for _, e := range p.Signals {
			if err := a.ProxySignal(p.Channel, e.Service, e.Key); err != nil {
				return err
			}
		}
		for _, e := range p.Slots {
			if err := a.ProxySlot(p.Channel, e.Service, e.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Connect wires a signal of one service to a slot of another. The connection is
// tracked by both services and released when either of them stops; it is made
// again when the stopped service starts, until Disconnect.
func (a *App) Connect(signalOwnerID, signalKey, slotOwnerID, slotKey string) (*dispatch.Connection, error) {
	from, sig, err := a.signal(signalOwnerID, signalKey)
	if err != nil {
		return nil, errors.Wrap(err, "App", "Connect", "resolve signal")
	}
	to, slot, err := a.slot(slotOwnerID, slotKey)
	if err != nil {
		return nil, errors.Wrap(err, "App", "Connect", "resolve slot")
	}

	conn, err := sig.Connect(slot)
	if err != nil {
		return nil, errors.Wrap(err, "App", "Connect",
			fmt.Sprintf("connect %s.%s to %s.%s", signalOwnerID, signalKey, slotOwnerID, slotKey))
	}
	from.Track(conn)
	to.Track(conn)

	l := link{signalOwnerID, signalKey, slotOwnerID, slotKey}
	a.wireMu.Lock()
	if !slices.Contains(a.links, l) {
		a.links = append(a.links, l)
	}
	a.wireMu.Unlock()
	a.watchAll(from, to)
	return conn, nil
}

func (a *App) watchAll(svcs ...service.Service) {
	for _, svc := range svcs {
		if err := a.watch(svc); err != nil {
			a.logger.Warn("service restarts will not restore its connections", "service", svc.ID(), "error", err)
		}
	}
}

// ProxySignal joins a service signal to a proxy channel. Each connection is
// tracked by the services on both of its ends and released when either stops.
// The signal stays in the channel and is connected again when the service
// starts.
func (a *App) ProxySignal(channel, ownerID, signalKey string) error {
	owner, sig, err := a.signal(ownerID, signalKey)
	if err != nil {
		return errors.Wrap(err, "App", "ProxySignal", "resolve signal")
	}
	if _, err := a.proxy.ConnectSignal(channel, sig, owner); err != nil {
		return err
	}
	a.watchAll(owner)
	return nil
}

// ProxySlot joins a service slot to a proxy channel, with the same tracking as
// ProxySignal.
func (a *App) ProxySlot(channel, ownerID, slotKey string) error {
	owner, slot, err := a.slot(ownerID, slotKey)
	if err != nil {
		return errors.Wrap(err, "App", "ProxySlot", "resolve slot")
	}
	if _, err := a.proxy.ConnectSlot(channel, slot, owner); err != nil {
		return err
	}
	a.watchAll(owner)
	return nil
}

// Bridge applies the export and import routes of cfg to b. The bridge owns the
// routes; they end when it closes.
func (a *App) Bridge(b *natsbridge.Bridge, cfg config.NATSConfig) error {
	for _, r := range cfg.Exports {
		_, sig, err := a.signal(r.Signal.Service, r.Signal.Key)
		if err != nil {
			return errors.Wrap(err, "App", "Bridge", "resolve export "+r.Signal.String())
		}
		if _, err := b.Export(sig, r.Subject); err != nil {
			return err
		}
	}
	for _, r := range cfg.Imports {
		_, sig, err := a.signal(r.Signal.Service, r.Signal.Key)
		if err != nil {
			return errors.Wrap(err, "App", "Bridge", "resolve import "+r.Signal.String())
		}
		if err := b.Import(r.Subject, sig); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) signal(ownerID, key string) (service.Service, *dispatch.Signal, error) {
	svc, err := a.services.Get(ownerID)
	if err != nil {
		return nil, nil, err
	}
	sig, err := svc.Signals().Get(key)
	if err != nil {
		return nil, nil, err
	}
	return svc, sig, nil
}

func (a *App) slot(ownerID, key string) (service.Service, *dispatch.Slot, error) {
	svc, err := a.services.Get(ownerID)
	if err != nil {
		return nil, nil, err
	}
	slot, err := svc.Slots().Get(key)
	if err != nil {
		return nil, nil, err
	}
	return svc, slot, nil
}

// RemoveService stops, destroys and forgets one service
func (a *App) RemoveService(ctx context.Context, id string) error {
	svc, err := a.services.Get(id)
	if err != nil {
		return err
	}
	stopErr := svc.Stop(ctx).Wait(ctx)
	if err := svc.Destroy(); err != nil {
		return errors.Join(stopErr, err)
	}
	a.unwatch(id)
	a.proxy.Leave(svc)
	a.services.Remove(id)
	a.monitor.Remove(id)
	a.setTree(id, nil)
	return stopErr
}

// Health refreshes and aggregates the health of every service
func (a *App) Health() health.Status {
	for _, svc := range a.services.Services() {
		a.monitor.Refresh(svc)
	}
	return a.monitor.AggregateHealth(a.name)
}

// Close stops every service, destroys them and releases the proxy channels,
// the objects and the workers.
func (a *App) Close(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	var errs []error
	if err := a.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, svc := range a.services.Services() {
		if err := svc.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy %s: %w", svc.ID(), err))
		}
		a.services.Remove(svc.ID())
	}
	a.proxy.DisconnectAll()
	a.wireMu.Lock()
	a.links = nil
	clear(a.watched)
	a.wireMu.Unlock()
	a.objects.Clear()
	a.monitor.Clear()
	if err := a.workers.StopAll(timeout); err != nil {
		errs = append(errs, err)
	}

	a.logger.Debug("app closed", "error_count", len(errs))
	return errors.Join(errs...)
}
