// Package metric exposes slotbus runtime metrics to Prometheus and serves them
// over HTTP together with the host health.
//
// A MetricsRegistry holds three kinds of collectors:
//   - core runtime metrics (Metrics), recorded by services, the dispatch layer and
//     the NATS bridge through the Record* methods
//   - Go runtime and process collectors
//   - per-owner collectors registered through MetricsRegistrar, such as the
//     queue depth and task counters of each worker
//
// Core metrics use the namespace "slotbus":
//
//   - slotbus_service_status{service}
//   - slotbus_service_transitions_total{service,transition,result}
//   - slotbus_service_hook_duration_seconds{service,hook}
//   - slotbus_errors_total{service,class}
//   - slotbus_health_status{service}
//   - slotbus_dispatch_emits_total{signal,mode}
//   - slotbus_dispatch_slot_invocations_total{slot,status}
//   - slotbus_bridge_messages_total{direction,subject}
//   - slotbus_bridge_dropped_total{direction,subject,reason}
//   - slotbus_nats_connected
//
// Owner collectors are keyed by owner and metric name. Registering a key twice
// fails with ErrAlreadyRegistered; UnregisterOwner releases everything an owner
// registered, which the worker registry does when a worker is removed.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	server.SetHealthFunc(host.Health) // /health serves the aggregated status as JSON
//	go func() { _ = server.Start() }()
package metric
