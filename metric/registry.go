package metric

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/slotbus/errors"
)

// MetricsRegistrar registers collectors on behalf of an owner, such as a worker
// or a service. Owners release everything they registered with UnregisterOwner.
type MetricsRegistrar interface {
	RegisterCounter(owner, name string, counter prometheus.Counter) error
	RegisterGauge(owner, name string, gauge prometheus.Gauge) error
	RegisterHistogramVec(owner, name string, histogramVec *prometheus.HistogramVec) error
	Unregister(owner, name string) bool
	UnregisterOwner(owner string) int
}

type metricKey struct {
	owner string
	name  string
}

// MetricsRegistry wraps a Prometheus registry holding the core runtime metrics,
// the Go runtime collectors and any per-owner collectors.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics

	mu         sync.RWMutex
	registered map[metricKey]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the core runtime metrics registered
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		registered:         make(map[metricKey]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core runtime metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// RegisterCounter registers a counter under owner
func (r *MetricsRegistry) RegisterCounter(owner, name string, counter prometheus.Counter) error {
	return r.register("RegisterCounter", owner, name, counter)
}

// RegisterGauge registers a gauge under owner
func (r *MetricsRegistry) RegisterGauge(owner, name string, gauge prometheus.Gauge) error {
	return r.register("RegisterGauge", owner, name, gauge)
}

// RegisterHistogramVec registers a histogram vector under owner
func (r *MetricsRegistry) RegisterHistogramVec(owner, name string, histogramVec *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", owner, name, histogramVec)
}

func (r *MetricsRegistry) register(method, owner, name string, collector prometheus.Collector) error {
	key := metricKey{owner: owner, name: name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metric %s of %s", errors.ErrAlreadyRegistered, name, owner),
			"MetricsRegistry", method, "check duplicate metric")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("register %s: name taken by another owner", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "register "+name)
	}

	r.registered[key] = collector
	return nil
}

// Unregister removes one collector registered under owner
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	key := metricKey{owner: owner, name: name}

	r.mu.Lock()
	defer r.mu.Unlock()

	collector, exists := r.registered[key]
	if !exists || !r.prometheusRegistry.Unregister(collector) {
		return false
	}
	delete(r.registered, key)
	return true
}

// UnregisterOwner removes every collector registered under owner and returns
// how many were removed
func (r *MetricsRegistry) UnregisterOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, collector := range r.registered {
		if key.owner != owner {
			continue
		}
		if r.prometheusRegistry.Unregister(collector) {
			delete(r.registered, key)
			removed++
		}
	}
	return removed
}

// Owners lists the owners with at least one registered collector, sorted
func (r *MetricsRegistry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for key := range r.registered {
		seen[key.owner] = true
	}
	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}
