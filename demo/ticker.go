package demo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/service"
	"github.com/c360/slotbus/types"
)

const tickerSchema = `{
  "type": "object",
  "properties": {
    "interval": {"type": "string", "pattern": "^(0|([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+)$"}
  }
}`

// Ticker publishes a counter as its "value" output and increments it on every
// tick. Ticks come from the configured interval, from the "tick" slot and from
// Update.
type Ticker struct {
	*service.Base

	mu       sync.Mutex
	interval time.Duration

	// owned by the service worker
	value  *data.Value[int]
	cancel context.CancelFunc
	done   chan struct{}

	ticked *dispatch.Signal
	tickFn *dispatch.Slot
}

// NewTicker is the service.Factory of the ticker type
func NewTicker(deps service.Dependencies, opts ...service.Option) (service.Service, error) {
	t := &Ticker{interval: time.Second}
	base := []service.Option{service.WithType(TypeTicker), service.WithConfigSchema(tickerSchema)}
	t.Base = service.NewBase(t, deps, append(base, opts...)...)

	if err := t.RegisterObject(KeyValue, service.AccessOutput, false, false); err != nil {
		return nil, err
	}
	var err error
	if t.ticked, err = t.DeclareSignal(SignalTicked, dispatch.TypeOf[int]()); err != nil {
		return nil, err
	}
	if t.tickFn, err = t.DeclareSlot(SlotTick, t.tick); err != nil {
		return nil, err
	}
	return t, nil
}

// Interval returns the automatic tick period; zero means manual ticks only
func (t *Ticker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Configuring reads the interval attribute
func (t *Ticker) Configuring(tree *types.ConfigTree) error {
	interval, err := parseInterval(tree)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.interval = interval
	t.mu.Unlock()
	return nil
}

// Reconfiguring applies a new interval while the ticker runs
func (t *Ticker) Reconfiguring(_ context.Context, tree *types.ConfigTree) error {
	interval, err := parseInterval(tree)
	if err != nil {
		return err
	}
	t.mu.Lock()
	changed := interval != t.interval
	t.interval = interval
	t.mu.Unlock()

	if changed {
		t.stopTicks()
		t.startTicks(interval)
	}
	return nil
}

func parseInterval(tree *types.ConfigTree) (time.Duration, error) {
	interval, err := time.ParseDuration(tree.GetOr("interval", "1s"))
	if err != nil || interval < 0 {
		return 0, fmt.Errorf("%w: interval %q", errors.ErrConfiguration, tree.GetOr("interval", ""))
	}
	return interval, nil
}

// Starting publishes the counter and starts the interval ticks
func (t *Ticker) Starting(context.Context) error {
	t.value = data.NewValue(t.OutputID(KeyValue), 0)
	if err := t.SetOutput(KeyValue, t.value); err != nil {
		return err
	}
	t.startTicks(t.Interval())
	return nil
}

// Stopping ends the interval ticks and unpublishes the counter
func (t *Ticker) Stopping(context.Context) error {
	t.stopTicks()
	t.value = nil
	return t.SetOutput(KeyValue, nil)
}

func (t *Ticker) startTicks(interval time.Duration) {
	if interval == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, interval, t.done)
}

func (t *Ticker) stopTicks() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
}

// Updating ticks once
func (t *Ticker) Updating(ctx context.Context) error {
	return t.tick(ctx)
}

func (t *Ticker) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.tickFn.AsyncRun()
		}
	}
}

func (t *Ticker) tick(context.Context) error {
	if t.Status() != service.StatusStarted || t.value == nil {
		return nil
	}
	var n int
	if err := t.value.Mutate(func(v *int) {
		*v++
		n = *v
	}); err != nil {
		return err
	}
	return t.ticked.AsyncEmit(n)
}
