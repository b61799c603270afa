package service

import (
	"context"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/health"
	"github.com/c360/slotbus/pkg/worker"
	"github.com/c360/slotbus/types"
)

// Keys of the signals and slots every service owns
const (
	SignalStarted = "started"
	SignalStopped = "stopped"
	SignalUpdated = "updated"
	SignalSwapped = "swapped"

	SlotStart   = "start"
	SlotStop    = "stop"
	SlotUpdate  = "update"
	SlotSwapKey = "swap_key"
)

// Service is the capability set the runtime drives. Base implements it; concrete
// services embed *Base and supply Hooks.
type Service interface {
	ID() string
	Type() string

	Configure(ctx context.Context, tree *types.ConfigTree) error
	Start(ctx context.Context) *worker.Task
	Stop(ctx context.Context) *worker.Task
	Update(ctx context.Context) *worker.Task
	SwapKey(ctx context.Context, key string, obj data.Object) *worker.Task
	Destroy() error

	Status() GlobalStatus
	Signals() *dispatch.Signals
	Slots() *dispatch.Slots
	Track(conns ...*dispatch.Connection)
	Health() health.Status
}

// Hooks are the service-specific halves of the lifecycle transitions. Starting,
// Stopping and Updating run on the service worker.
type Hooks interface {
	Configuring(tree *types.ConfigTree) error
	Starting(ctx context.Context) error
	Stopping(ctx context.Context) error
	Updating(ctx context.Context) error
}

// Reconfigurer is implemented by services that accept a new configuration while
// started.
type Reconfigurer interface {
	Reconfiguring(ctx context.Context, tree *types.ConfigTree) error
}

// Swapper is implemented by services that react to an object being swapped under a
// key. Without it a swap only rebinds the object.
type Swapper interface {
	Swapping(ctx context.Context, key string) error
}

// AutoConnection names an object signal and a service slot to wire at start
type AutoConnection struct {
	Signal string
	Slot   string
}

// AutoConnections maps a binding key, or a group name, to the connections made for
// the object bound under it.
type AutoConnections map[string][]AutoConnection

// AutoConnector is implemented by services that declare their own auto-connection
// map. Keys missing from the map use the default connection.
type AutoConnector interface {
	AutoConnections() AutoConnections
}

// DefaultAutoConnection wires an object's modified signal to the update slot
var DefaultAutoConnection = AutoConnection{Signal: data.SignalModified, Slot: SlotUpdate}

// NopHooks implements Hooks with no-ops. Embed it to implement only the hooks a
// service needs.
type NopHooks struct{}

// Configuring implements Hooks
func (NopHooks) Configuring(*types.ConfigTree) error { return nil }

// Starting implements Hooks
func (NopHooks) Starting(context.Context) error { return nil }

// Stopping implements Hooks
func (NopHooks) Stopping(context.Context) error { return nil }

// Updating implements Hooks
func (NopHooks) Updating(context.Context) error { return nil }
