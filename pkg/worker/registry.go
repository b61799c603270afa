package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/metric"
)

// DefaultName is the name of the process-wide default worker
const DefaultName = "default"

// Registry owns named workers. Every worker it creates is started with the
// registry context.
type Registry struct {
	ctx     context.Context
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewRegistry creates a registry; ctx bounds the lifetime of workers it creates.
func NewRegistry(ctx context.Context, logger *slog.Logger, metrics *metric.MetricsRegistry) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ctx:     ctx,
		logger:  logger,
		metrics: metrics,
		workers: make(map[string]*Worker),
	}
}

// Default returns the default worker, creating it on first use
func (r *Registry) Default() *Worker {
	w, _ := r.GetOrCreate(DefaultName)
	return w
}

// Get returns the worker registered under name
func (r *Registry) Get(name string) (*Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[name]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: worker %q", errors.ErrUnknownKey, name),
			"Registry", "Get", "worker lookup")
	}
	return w, nil
}

// GetOrCreate returns the named worker, creating and starting it when absent
func (r *Registry) GetOrCreate(name string) (*Worker, error) {
	if name == "" {
		name = DefaultName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[name]; ok {
		return w, nil
	}

	opts := []Option{WithLogger(r.logger)}
	if r.metrics != nil {
		opts = append(opts, WithMetricsRegistry(r.metrics, metric.Namespace+"_worker_"+sanitizeName(name)))
	}
	w := NewWorker(name, opts...)
	if err := w.Start(r.ctx); err != nil {
		return nil, errors.Wrap(err, "Registry", "GetOrCreate", "start worker "+name)
	}
	r.workers[name] = w
	return w, nil
}

// Add registers an externally created worker under its name
func (r *Registry) Add(w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.Name()]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: worker %q", errors.ErrAlreadyRegistered, w.Name()),
			"Registry", "Add", "worker registration")
	}
	r.workers[w.Name()] = w
	return nil
}

// Remove stops and removes the named worker
func (r *Registry) Remove(name string, timeout time.Duration) error {
	r.mu.Lock()
	w, ok := r.workers[name]
	delete(r.workers, name)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if r.metrics != nil {
		defer r.metrics.UnregisterOwner("worker_" + name)
	}
	return w.Stop(timeout)
}

// Names returns the registered worker names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll stops every worker, the default one last
func (r *Registry) StopAll(timeout time.Duration) error {
	var errs []error
	names := r.Names()
	for _, name := range names {
		if name == DefaultName {
			continue
		}
		if err := r.Remove(name, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.Remove(DefaultName, timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func sanitizeName(name string) string {
	out := []byte(name)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
