package service

import (
	"log/slog"

	"github.com/c360/slotbus/metric"
	"github.com/c360/slotbus/objects"
	"github.com/c360/slotbus/pkg/worker"
)

// Dependencies are the shared runtime pieces every service receives. Nil fields
// fall back to private instances so a service can be built standalone in tests.
type Dependencies struct {
	Objects         *objects.Registry
	Workers         *worker.Registry
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Factory builds a service of one registered type
type Factory func(deps Dependencies, opts ...Option) (Service, error)

// Option is a functional option for configuring Base
type Option func(*Base)

// WithID sets the service id. The default is a random UUID.
func WithID(id string) Option {
	return func(b *Base) {
		if id != "" {
			b.id = id
		}
	}
}

// WithType sets the type name reported by Type
func WithType(typ string) Option {
	return func(b *Base) {
		if typ != "" {
			b.typ = typ
		}
	}
}

// WithWorker binds the service to w instead of the default worker
func WithWorker(w *worker.Worker) Option {
	return func(b *Base) {
		b.worker = w
	}
}

// WithAutoStart starts the service once it is configured and every required object
// resolves, and stops it when a required object disappears.
func WithAutoStart() Option {
	return func(b *Base) {
		b.autoStart = true
	}
}

// WithConfigSchema validates configuration trees against a JSON schema during
// Configure.
func WithConfigSchema(schema string) Option {
	return func(b *Base) {
		b.schema = schema
	}
}
