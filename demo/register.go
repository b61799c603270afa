// Package demo provides two small service types that exercise the runtime from a
// configuration file: a ticker that publishes a counter and a printer that
// consumes it.
package demo

import (
	stderrors "errors"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/service"
)

// Service types
const (
	TypeTicker  = "ticker"
	TypePrinter = "printer"
)

// Keys shared by the demo services
const (
	// KeyValue is the ticker output and the printer input
	KeyValue = "value"
	// SlotTick increments the ticker counter
	SlotTick = "tick"
	// SignalTicked carries the new counter after each tick
	SignalTicked = "ticked"
	// SignalPrinted carries each value the printer saw
	SignalPrinted = "printed"
)

// Register registers the demo service types with the provided registry
func Register(registry *service.Registry) error {
	if registry == nil {
		return errors.WrapFatal(stderrors.New("registry cannot be nil"), "Demo", "Register", "registry validation")
	}
	if err := registry.RegisterFactory(TypeTicker, NewTicker); err != nil {
		return errors.WrapInvalid(err, "Demo", "Register", "ticker registration")
	}
	if err := registry.RegisterFactory(TypePrinter, NewPrinter); err != nil {
		return errors.WrapInvalid(err, "Demo", "Register", "printer registration")
	}
	return nil
}
