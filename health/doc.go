// Package health turns service lifecycle state into health statuses and folds
// them into one answer for a host.
//
// A service fills a Report from its lifecycle status, its last transition error
// and the required objects it cannot resolve. FromReport maps it onto a Status:
//
//	started                       → healthy
//	started, objects missing      → degraded
//	starting, stopping, swapping  → degraded
//	stopped                       → unhealthy
//	last transition failed        → unhealthy, message is the sanitized error
//
// A Monitor keeps the latest Status per service and aggregates them: any
// unhealthy service makes the host unhealthy, otherwise any degraded service
// makes it degraded.
//
//	monitor := health.NewMonitor()
//	monitor.Refresh(services...)
//	overall := monitor.AggregateHealth("slotbus")
//	for _, sub := range overall.SubStatuses {
//	    if !sub.IsHealthy() {
//	        slog.Warn("service not healthy", "service", sub.Component, "message", sub.Message)
//	    }
//	}
//
// Error messages are sanitized before they reach a Status: URLs, file paths, IP
// addresses, ports and credential-looking pairs are replaced by placeholders.
package health
