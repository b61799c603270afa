package health

import (
	"regexp"
	"strings"
	"time"
)

// Health states reported in Status.Status
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one service or of a whole host
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Details     *Details  `json:"details,omitempty"`
}

// Details carries the lifecycle facts behind a service status
type Details struct {
	Lifecycle      string        `json:"lifecycle"`
	Uptime         time.Duration `json:"uptime,omitempty"`
	ErrorCount     int           `json:"error_count"`
	MissingObjects []string      `json:"missing_objects,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// Report is what a service knows about itself when asked for its health
type Report struct {
	Lifecycle     string // lifecycle status name, e.g. "started"
	Running       bool   // the service is Started
	Transitioning bool   // the service is starting, stopping or swapping
	LastError     string // error of the last failed transition
	ErrorCount    int
	StartedAt     time.Time
	// MissingObjects lists required keys whose object is not in the registry
	MissingObjects []string
}

// FromReport maps a service report onto a Status:
//   - a failed transition is unhealthy, whatever the lifecycle state
//   - starting, stopping and swapping are degraded
//   - started is healthy unless a required object went missing (degraded)
//   - anything else, stopped included, is unhealthy
func FromReport(name string, r Report) Status {
	state, message := StateUnhealthy, "Service "+r.Lifecycle
	switch {
	case r.LastError != "":
		message = sanitizeErrorMessage(r.LastError)
	case r.Transitioning:
		state = StateDegraded
	case r.Running && len(r.MissingObjects) > 0:
		state = StateDegraded
		message = "Missing objects: " + strings.Join(r.MissingObjects, ", ")
	case r.Running:
		state = StateHealthy
	}

	details := &Details{
		Lifecycle:      r.Lifecycle,
		ErrorCount:     r.ErrorCount,
		MissingObjects: r.MissingObjects,
	}
	if !r.StartedAt.IsZero() && (r.Running || r.Transitioning) {
		details.Uptime = time.Since(r.StartedAt)
	}

	return Status{
		Component: name,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	}
}

// sanitizeErrorMessage replaces URLs, paths, addresses, ports and
// credential-looking pairs so hook errors can be served on /health.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")
	return credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
}
