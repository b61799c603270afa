package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

func sampleTree() *types.ConfigTree {
	return types.NewConfigTree().
		Add("uid", "reader").
		Add("type", "image_reader").
		Add("auto_connect", "yes").
		AddChild("in", types.NewConfigTree().Add("key", "image").Add("uid", "img0")).
		AddChild("in", types.NewConfigTree().Add("key", "mask").Add("uid", "msk0").Add("optional", "true")).
		Add("tag", "a").
		Add("tag", "b")
}

func TestConfigTree_Scalars(t *testing.T) {
	tree := sampleTree()

	v, ok := tree.Get("uid")
	require.True(t, ok)
	assert.Equal(t, "reader", v)
	assert.Equal(t, "fallback", tree.GetOr("worker", "fallback"))

	auto, err := tree.Bool("auto_connect", false)
	require.NoError(t, err)
	assert.True(t, auto)

	def, err := tree.Bool("missing", true)
	require.NoError(t, err)
	assert.True(t, def)

	_, err = tree.Int("uid", 0)
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)

	n, err := types.NewConfigTree().Add("size", " 5 ").Int("size", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, []string{"a", "b"}, tree.Values("tag"))
}

func TestConfigTree_Children(t *testing.T) {
	tree := sampleTree()

	children := tree.Children("in")
	require.Len(t, children, 2)
	assert.Equal(t, "mask", children[1].GetOr("key", ""))

	first, ok := tree.Child("in")
	require.True(t, ok)
	assert.Same(t, children[0], first)

	_, ok = tree.Child("uid")
	assert.False(t, ok, "scalar entries are not children")

	assert.Equal(t, []string{"uid", "type", "auto_connect", "in", "tag"}, tree.Keys())
	assert.Equal(t, 7, tree.Len())
}

func TestConfigTree_Require(t *testing.T) {
	tree := sampleTree()
	require.NoError(t, tree.Require("uid", "in"))

	err := tree.Require("uid", "worker", "out")
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)
	assert.Contains(t, err.Error(), "worker, out")
}

func TestConfigTree_Set(t *testing.T) {
	tree := types.NewConfigTree().Add("uid", "a")
	tree.Set("uid", "b").Set("worker", "io")
	assert.Equal(t, "b", tree.GetOr("uid", ""))
	assert.Equal(t, "io", tree.GetOr("worker", ""))
	assert.Equal(t, 2, tree.Len())
}

func TestConfigTree_MapRoundTrip(t *testing.T) {
	m := sampleTree().ToMap()

	assert.Equal(t, "reader", m["uid"])
	ins, ok := m["in"].([]any)
	require.True(t, ok)
	require.Len(t, ins, 2)
	assert.Equal(t, "img0", ins[0].(map[string]any)["uid"])
	assert.Equal(t, []any{"a", "b"}, m["tag"])

	back := types.FromMap(m)
	assert.Len(t, back.Children("in"), 2)
	assert.Equal(t, []string{"a", "b"}, back.Values("tag"))
	assert.Equal(t, "yes", back.GetOr("auto_connect", ""))
}

func TestConfigTree_FromMapScalars(t *testing.T) {
	tree := types.FromMap(map[string]any{
		"count":   3,
		"enabled": true,
		"empty":   nil,
	})
	assert.Equal(t, "3", tree.GetOr("count", ""))
	assert.Equal(t, "true", tree.GetOr("enabled", ""))
	v, ok := tree.Get("empty")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestConfigTree_CloneIsDeep(t *testing.T) {
	tree := sampleTree()
	clone := tree.Clone()
	clone.Children("in")[0].Set("uid", "changed")

	assert.Equal(t, "img0", tree.Children("in")[0].GetOr("uid", ""))
	assert.Equal(t, "changed", clone.Children("in")[0].GetOr("uid", ""))
}

func TestConfigTree_NilSafe(t *testing.T) {
	var tree *types.ConfigTree
	_, ok := tree.Get("x")
	assert.False(t, ok)
	assert.Equal(t, 0, tree.Len())
	assert.Empty(t, tree.ToMap())
	assert.Nil(t, tree.Clone())
}

func TestConfigTree_String(t *testing.T) {
	tree := types.NewConfigTree().Add("uid", "a").AddChild("in", types.NewConfigTree().Add("key", "k"))
	assert.Equal(t, `{uid="a", in={key="k"}}`, tree.String())
}
