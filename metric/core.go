package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every core runtime metric.
const Namespace = "slotbus"

// Metrics contains all runtime-level metrics (not service-specific)
type Metrics struct {
	// Service lifecycle metrics
	ServiceStatus     *prometheus.GaugeVec
	Transitions       *prometheus.CounterVec
	HookDuration      *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	// Dispatch metrics
	SignalEmits     *prometheus.CounterVec
	SlotInvocations *prometheus.CounterVec

	// Bridge metrics
	BridgeMessages *prometheus.CounterVec
	BridgeDropped  *prometheus.CounterVec
	NATSConnected  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service lifecycle status (0=stopped, 1=starting, 2=started, 3=swapping, 4=stopping)",
			},
			[]string{"service"},
		),

		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "transitions_total",
				Help:      "Total number of lifecycle transitions",
			},
			[]string{"service", "transition", "result"},
		),

		HookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "hook_duration_seconds",
				Help:      "Lifecycle hook duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "hook"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"service", "class"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		SignalEmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "dispatch",
				Name:      "emits_total",
				Help:      "Total number of signal emissions",
			},
			[]string{"signal", "mode"},
		),

		SlotInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "dispatch",
				Name:      "slot_invocations_total",
				Help:      "Total number of slot invocations",
			},
			[]string{"slot", "status"},
		),

		BridgeMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bridge",
				Name:      "messages_total",
				Help:      "Total number of signal emissions bridged over NATS",
			},
			[]string{"direction", "subject"},
		),

		BridgeDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bridge",
				Name:      "dropped_total",
				Help:      "Total number of bridged emissions dropped by rate limiting or decode failure",
			},
			[]string{"direction", "subject", "reason"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.Transitions,
		c.HookDuration,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.SignalEmits,
		c.SlotInvocations,
		c.BridgeMessages,
		c.BridgeDropped,
		c.NATSConnected,
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordTransition increments the lifecycle transition counter
func (c *Metrics) RecordTransition(service, transition string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.Transitions.WithLabelValues(service, transition, result).Inc()
}

// RecordHookDuration records how long a lifecycle hook ran
func (c *Metrics) RecordHookDuration(service, hook string, duration time.Duration) {
	c.HookDuration.WithLabelValues(service, hook).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(service, class string) {
	c.ErrorsTotal.WithLabelValues(service, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordEmit increments the signal emission counter
func (c *Metrics) RecordEmit(signal, mode string) {
	c.SignalEmits.WithLabelValues(signal, mode).Inc()
}

// RecordSlotInvocation increments the slot invocation counter
func (c *Metrics) RecordSlotInvocation(slot string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.SlotInvocations.WithLabelValues(slot, status).Inc()
}

// RecordBridgeMessage increments the bridged message counter
func (c *Metrics) RecordBridgeMessage(direction, subject string) {
	c.BridgeMessages.WithLabelValues(direction, subject).Inc()
}

// RecordBridgeDrop increments the bridged drop counter
func (c *Metrics) RecordBridgeDrop(direction, subject, reason string) {
	c.BridgeDropped.WithLabelValues(direction, subject, reason).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}
