package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

const tickerSchema = `{
  "type": "object",
  "required": ["interval"],
  "properties": {
    "interval": {"type": "string", "pattern": "^[0-9]+(ms|s)$"},
    "out": {"type": "object", "required": ["key"]}
  }
}`

func TestValidateTree(t *testing.T) {
	tests := []struct {
		name    string
		tree    *types.ConfigTree
		wantErr bool
	}{
		{"valid", types.NewConfigTree().Add("interval", "250ms").
			AddChild("out", types.NewConfigTree().Add("key", "value")), false},
		{"missing interval", types.NewConfigTree().Add("uid", "ticker"), true},
		{"bad interval", types.NewConfigTree().Add("interval", "soon"), true},
		{"output without key", types.NewConfigTree().Add("interval", "1s").
			AddChild("out", types.NewConfigTree().Add("uid", "x")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTree(tt.tree, tickerSchema)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrConfiguration)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateTree_EmptySchema(t *testing.T) {
	assert.NoError(t, ValidateTree(types.NewConfigTree().Add("anything", "goes"), " "))
}

func TestValidateTree_BrokenSchema(t *testing.T) {
	err := ValidateTree(types.NewConfigTree(), `{"type": 12}`)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}
