package objects

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/slotbus/data"
	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/pkg/worker"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	reg := NewRegistry(nil)
	obj := data.NewValue("mesh", 1)

	require.NoError(t, reg.Add(obj))
	require.NoError(t, reg.Add(obj), "re-adding the same object is a no-op")

	got, err := reg.Get("mesh")
	require.NoError(t, err)
	assert.Same(t, obj, got)
	assert.True(t, reg.Has("mesh"))
	assert.Equal(t, []string{"mesh"}, reg.IDs())

	err = reg.Add(data.NewValue("mesh", 2))
	assert.ErrorIs(t, err, errors.ErrAlreadyRegistered)

	assert.True(t, reg.Remove("mesh"))
	assert.False(t, reg.Remove("mesh"))

	_, err = reg.Get("mesh")
	assert.ErrorIs(t, err, errors.ErrUnknownKey)
	assert.Equal(t, 0, reg.Len())

	assert.ErrorIs(t, reg.Add(nil), errors.ErrTypeMismatch)
}

func TestRegistry_RemoveObject(t *testing.T) {
	reg := NewRegistry(nil)
	current := data.NewValue("image", "a")
	stale := data.NewValue("image", "b")
	require.NoError(t, reg.Add(current))

	assert.False(t, reg.RemoveObject(stale))
	assert.True(t, reg.Has("image"))
	assert.True(t, reg.RemoveObject(current))
	assert.False(t, reg.RemoveObject(nil))
}

func TestRegistry_Signals(t *testing.T) {
	w := worker.NewWorker("watcher")
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(time.Second)

	reg := NewRegistry(nil)

	type event struct {
		kind string
		id   string
	}
	events := make(chan event, 4)

	added := dispatch.MustSlot("on-added", func(id string, obj data.Object) {
		assert.Equal(t, id, obj.ID())
		events <- event{"added", id}
	})
	removed := dispatch.MustSlot("on-removed", func(id string) { events <- event{"removed", id} })
	added.SetWorker(w)
	removed.SetWorker(w)

	_, err := reg.Added().Connect(added)
	require.NoError(t, err)
	_, err = reg.Removed().Connect(removed)
	require.NoError(t, err)

	require.NoError(t, reg.Add(data.NewValue("volume", 0)))
	reg.Remove("volume")

	assert.Equal(t, event{"added", "volume"}, <-events)
	assert.Equal(t, event{"removed", "volume"}, <-events)
}

func TestRegistry_Clear(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Add(data.NewValue("a", 1)))
	require.NoError(t, reg.Add(data.NewValue("b", 2)))

	reg.Clear()
	assert.Equal(t, 0, reg.Len())
}
