// Package types contains shared types used across the slotbus runtime
package types

import (
	"fmt"

	"github.com/c360/slotbus/errors"
)

// ServiceSpec describes one service instance in the process configuration: which
// registered type to construct and the tree handed to its configure step.
type ServiceSpec struct {
	UID     string      `json:"uid"`
	Type    string      `json:"type"`
	Enabled bool        `json:"enabled"`
	Tree    *ConfigTree `json:"-"`
}

// Validate ensures the service specification is usable
func (s ServiceSpec) Validate() error {
	if s.Type == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: service type cannot be empty", errors.ErrConfiguration),
			"ServiceSpec", "Validate", "service type check")
	}
	if s.Tree == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: service %q has no configuration tree", errors.ErrConfiguration, s.UID),
			"ServiceSpec", "Validate", "service tree check")
	}
	return nil
}

// ServiceSpecs holds service instance specifications in start order.
type ServiceSpecs []ServiceSpec

// Enabled returns the enabled specifications, preserving order
func (s ServiceSpecs) Enabled() ServiceSpecs {
	out := make(ServiceSpecs, 0, len(s))
	for _, spec := range s {
		if spec.Enabled {
			out = append(out, spec)
		}
	}
	return out
}
