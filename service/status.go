package service

import (
	"fmt"

	"github.com/c360/slotbus/errors"
)

// GlobalStatus is the lifecycle state of a service
type GlobalStatus int32

// Lifecycle states
const (
	StatusStopped GlobalStatus = iota
	StatusStarting
	StatusStarted
	StatusSwapping
	StatusStopping
)

// String returns the string representation of GlobalStatus
func (s GlobalStatus) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusStarted:
		return "started"
	case StatusSwapping:
		return "swapping"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ConfigurationStatus tracks whether configure has completed
type ConfigurationStatus int32

// Configuration states
const (
	Unconfigured ConfigurationStatus = iota
	Configuring
	Configured
)

// String returns the string representation of ConfigurationStatus
func (s ConfigurationStatus) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configuring:
		return "configuring"
	case Configured:
		return "configured"
	default:
		return "unknown"
	}
}

// UpdatingStatus tracks whether the updating hook is running
type UpdatingStatus int32

// Updating states
const (
	NotUpdating UpdatingStatus = iota
	Updating
)

// String returns the string representation of UpdatingStatus
func (s UpdatingStatus) String() string {
	if s == Updating {
		return "updating"
	}
	return "not_updating"
}

// Access is the ownership contract of an object binding.
type Access int

const (
	// AccessInput is a read-only reference to an object owned elsewhere
	AccessInput Access = iota
	// AccessInOut is a shared mutable reference
	AccessInOut
	// AccessOutput is an object produced and published by the service
	AccessOutput
)

// String returns the configuration spelling of the access
func (a Access) String() string {
	switch a {
	case AccessInput:
		return "in"
	case AccessInOut:
		return "inout"
	case AccessOutput:
		return "out"
	default:
		return "unknown"
	}
}

// ParseAccess parses "in", "inout" or "out"
func ParseAccess(s string) (Access, error) {
	switch s {
	case "in", "input":
		return AccessInput, nil
	case "inout":
		return AccessInOut, nil
	case "out", "output":
		return AccessOutput, nil
	default:
		return 0, fmt.Errorf("%w: unknown access %q", errors.ErrConfiguration, s)
	}
}
