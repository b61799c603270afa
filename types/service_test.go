package types_test

import (
	"testing"

	pkgerrors "github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

func TestServiceSpecValidate(t *testing.T) {
	tests := []struct {
		name        string
		spec        types.ServiceSpec
		expectError bool
	}{
		{
			name: "valid spec",
			spec: types.ServiceSpec{
				UID:     "producer",
				Type:    "counter",
				Enabled: true,
				Tree:    types.NewConfigTree().Add("uid", "producer"),
			},
		},
		{
			name:        "missing type",
			spec:        types.ServiceSpec{UID: "x", Tree: types.NewConfigTree()},
			expectError: true,
		},
		{
			name:        "missing tree",
			spec:        types.ServiceSpec{UID: "x", Type: "counter"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !pkgerrors.Is(err, pkgerrors.ErrConfiguration) {
					t.Errorf("expected ErrConfiguration, got %v", err)
				}
				if !pkgerrors.IsInvalid(err) {
					t.Errorf("expected invalid error class, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestServiceSpecsEnabled(t *testing.T) {
	specs := types.ServiceSpecs{
		{UID: "a", Enabled: true},
		{UID: "b", Enabled: false},
		{UID: "c", Enabled: true},
	}
	enabled := specs.Enabled()
	if len(enabled) != 2 || enabled[0].UID != "a" || enabled[1].UID != "c" {
		t.Errorf("unexpected enabled specs: %+v", enabled)
	}
}
