package demo

import (
	"context"
	"sync"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/service"
	"github.com/c360/slotbus/types"
)

// Printer logs every change of its "value" input and keeps the history.
type Printer struct {
	*service.Base

	mu       sync.Mutex
	level    string
	received []int

	printed *dispatch.Signal
}

// NewPrinter is the service.Factory of the printer type
func NewPrinter(deps service.Dependencies, opts ...service.Option) (service.Service, error) {
	p := &Printer{level: "info"}
	p.Base = service.NewBase(p, deps, append([]service.Option{service.WithType(TypePrinter)}, opts...)...)

	if err := p.RegisterObject(KeyValue, service.AccessInput, true, false, service.OfType[*data.Value[int]]()); err != nil {
		return nil, err
	}
	var err error
	if p.printed, err = p.DeclareSignal(SignalPrinted, dispatch.TypeOf[int]()); err != nil {
		return nil, err
	}
	return p, nil
}

// Received returns the values seen so far
func (p *Printer) Received() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.received...)
}

// Configuring reads the log level attribute
func (p *Printer) Configuring(tree *types.ConfigTree) error {
	p.mu.Lock()
	p.level = tree.GetOr("level", "info")
	p.mu.Unlock()
	return nil
}

// Starting prints the current value
func (p *Printer) Starting(ctx context.Context) error {
	return p.Updating(ctx)
}

// Stopping is a no-op
func (p *Printer) Stopping(context.Context) error { return nil }

// Updating reads the input and records it
func (p *Printer) Updating(context.Context) error {
	v, err := service.ObjectAs[*data.Value[int]](p.Base, KeyValue)
	if err != nil {
		return err
	}
	n := v.Get()

	p.mu.Lock()
	p.received = append(p.received, n)
	level := p.level
	p.mu.Unlock()

	if level == "debug" {
		p.Logger().Debug("value", "value", n)
	} else {
		p.Logger().Info("value", "value", n)
	}
	return p.printed.AsyncEmit(n)
}
