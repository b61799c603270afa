package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/errors"
)

func TestObjectGroup_RoundTrip(t *testing.T) {
	c := newCounter(t, newDeps())

	require.NoError(t, c.RegisterObjectGroup("g", AccessInput, 2, false, 5))
	assert.Equal(t, []string{"g#0", "g#1", "g#2", "g#3", "g#4"}, c.Keys())
	assert.False(t, c.HasAllRequiredObjects())

	require.NoError(t, c.BindObject(GroupKey("g", 0), data.NewValue("a", 1)))
	assert.False(t, c.HasAllRequiredObjects(), "index 1 is still unresolved")
	assert.Equal(t, []string{"g#1"}, c.MissingObjects())

	require.NoError(t, c.BindObject(GroupKey("g", 1), data.NewValue("b", 2)))
	assert.True(t, c.HasAllRequiredObjects())

	info, ok := c.Binding("g#3")
	require.True(t, ok)
	assert.True(t, info.Optional)
	assert.Equal(t, "g", info.Group)
	assert.False(t, info.Resolved)

	assert.Len(t, c.GroupObjects("g"), 2)
}

func TestObjectGroup_InvalidBounds(t *testing.T) {
	c := newCounter(t, newDeps())

	tests := []struct {
		name     string
		min, max int
	}{
		{"zero max", 0, 0},
		{"min above max", 3, 2},
		{"negative min", -1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.RegisterObjectGroup("g", AccessInput, tt.min, false, tt.max)
			assert.ErrorIs(t, err, errors.ErrConfiguration)
		})
	}

	require.NoError(t, c.RegisterObjectGroup("g", AccessInput, 1, false, 2))
	assert.ErrorIs(t, c.RegisterObjectGroup("g", AccessInput, 1, false, 2), errors.ErrAlreadyRegistered)
}

func TestBinding_Errors(t *testing.T) {
	deps := newDeps()
	c := newCounter(t, deps)

	obj := data.NewValue("img", 0)
	require.NoError(t, c.RegisterInput(obj, "image", false, false))
	require.NoError(t, c.RegisterObject("mesh", AccessInOut, false, true))

	_, err := c.Input("missing")
	assert.ErrorIs(t, err, errors.ErrUnknownKey)

	_, err = c.InOut("image")
	assert.ErrorIs(t, err, errors.ErrTypeMismatch, "image is an input")

	_, err = c.InOut("mesh")
	assert.ErrorIs(t, err, errors.ErrMissingObject)

	got, err := c.Input("image")
	require.NoError(t, err)
	assert.Same(t, obj, got)
	assert.True(t, deps.Objects.Has("img"), "bound objects are added to the registry")

	deps.Objects.Remove("img")
	_, err = c.Input("image")
	assert.ErrorIs(t, err, errors.ErrExpiredObject)

	assert.ErrorIs(t, c.RegisterObject("image", AccessInput, false, false), errors.ErrAlreadyRegistered)
}

func TestBinding_TypeContract(t *testing.T) {
	c := newCounter(t, newDeps())

	err := c.RegisterInput(data.NewValue("s", "text"), "count", false, false, OfType[*data.Value[int]]())
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
	_, ok := c.Binding("count")
	assert.False(t, ok, "a rejected registration leaves no binding")

	require.NoError(t, c.RegisterInput(data.NewValue("n", 3), "count", false, false, OfType[*data.Value[int]]()))
	v, err := ObjectAs[*data.Value[int]](c.Base, "count")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Get())

	_, err = ObjectAs[*data.Value[string]](c.Base, "count")
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestBinding_DeferredID(t *testing.T) {
	deps := newDeps()
	c := newCounter(t, deps)

	require.NoError(t, c.RegisterObject("image", AccessInput, false, false))
	require.NoError(t, c.SetObjectID("image", "later"))
	assert.False(t, c.HasAllRequiredObjects())

	_, err := c.Input("image")
	assert.ErrorIs(t, err, errors.ErrExpiredObject)

	require.NoError(t, deps.Objects.Add(data.NewValue("later", 1)))
	assert.True(t, c.HasAllRequiredObjects())

	assert.ErrorIs(t, c.SetObjectID("nope", "x"), errors.ErrUnknownKey)
}

func TestSetOutput_PublishAndUnpublish(t *testing.T) {
	deps := newDeps()
	c := newCounter(t, deps, WithID("producer"))

	assert.Equal(t, "producer/result", c.OutputID("result"))

	first := data.NewValue("producer/result", 1)
	require.NoError(t, c.SetOutput("result", first))
	got, err := deps.Objects.Get("producer/result")
	require.NoError(t, err)
	assert.Same(t, first, got)

	second := data.NewValue("producer/result", 2)
	require.NoError(t, c.SetOutput("result", second), "replacing under the same id")
	got, err = c.Output("result")
	require.NoError(t, err)
	assert.Same(t, second, got)

	require.NoError(t, c.SetOutput("result", nil))
	assert.False(t, deps.Objects.Has("producer/result"))
	_, err = c.Output("result")
	assert.ErrorIs(t, err, errors.ErrMissingObject)

	require.NoError(t, c.RegisterObject("image", AccessInput, false, true))
	assert.ErrorIs(t, c.SetOutput("image", first), errors.ErrTypeMismatch)
}

func TestSetOutput_IDConflict(t *testing.T) {
	deps := newDeps()
	require.NoError(t, deps.Objects.Add(data.NewValue("taken", 0)))

	c := newCounter(t, deps)
	err := c.SetOutput("result", data.NewValue("taken", 1))
	assert.ErrorIs(t, err, errors.ErrAlreadyRegistered)
	_, err = c.Output("result")
	assert.ErrorIs(t, err, errors.ErrMissingObject, "a failed publish leaves the output unset")
}

func TestUnregisterObject(t *testing.T) {
	ctx := testContext(t)
	deps := newDeps()
	c := newCounter(t, deps, WithAutoStart())

	mesh := data.NewValue("mesh", 0)
	require.NoError(t, c.RegisterInOut(mesh, "mesh", true, false))
	require.NoError(t, c.RegisterInput(data.NewValue("img", 0), "image", false, true))
	require.NoError(t, c.Start(ctx).Wait(ctx))

	assert.ErrorIs(t, c.UnregisterInOut(ctx, "image"), errors.ErrTypeMismatch)
	assert.ErrorIs(t, c.UnregisterObject(ctx, "nope"), errors.ErrUnknownKey)

	require.NoError(t, c.UnregisterInput(ctx, "image"))
	assert.Equal(t, StatusStarted, c.Status())

	require.NoError(t, c.UnregisterInOut(ctx, "mesh"))
	assert.Equal(t, StatusStopped, c.Status(), "removing a required inout stops an auto-start service")
	assert.Equal(t, 0, mesh.Modified().NumConnections())
	assert.Empty(t, c.Keys())
}

func TestBindObject_RequiresStopped(t *testing.T) {
	ctx := testContext(t)
	c := newCounter(t, newDeps())
	require.NoError(t, c.RegisterObject("image", AccessInput, false, true))
	require.NoError(t, c.Start(ctx).Wait(ctx))

	assert.ErrorIs(t, c.BindObject("image", data.NewValue("", 0)), errors.ErrBadState)
}
