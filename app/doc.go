// Package app is the application context of a slotbus host.
//
// An App owns everything that would otherwise be process-wide state: the object
// registry, the named workers, the service registry, the proxy channels and the
// health monitor. Services created through it share these instances, and Close
// releases them together, so tests can run several apps side by side.
//
//	a := app.New(ctx, app.WithLogger(logger))
//	_ = a.RegisterFactory("ticker", demo.NewTicker)
//	if err := a.Load(ctx, cfg); err != nil { ... }
//	if err := a.StartAll(ctx); err != nil { ... }
//	defer a.Close(ctx, 5*time.Second)
//
// Connections declared as (signal owner, signal key, slot owner, slot key) are
// made with Connect and tracked by both services, so stopping either one
// releases them. Proxy channels join any number of signals and slots under a
// name, and every proxy connection is tracked by the services on both ends too.
// The app remembers both kinds: when a service reaches Started, its connections
// and channel joins toward running peers are made again. Disconnect and
// RemoveService forget them.
//
// StartAll starts services in waves: a service whose required objects are not
// yet published waits for a later wave, after the services started before it
// have published their outputs. StopAll reverses the waves.
//
// Reconfigure applies a reloaded configuration to the services the app created.
// A changed tree is passed to the service's Configure; a started service takes it
// through its Reconfiguring hook. Everything else in the file is read at Load
// only.
package app
