package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseRegistry_RegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	require.NoError(t, r.Register("a", 1))
	require.Error(t, r.Register("a", 2), "duplicate name must fail")
	require.Error(t, r.Register("", 3), "empty name must fail")

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestBaseRegistry_ListIsSortedByName(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("zebra", "z"))
	require.NoError(t, r.Register("apple", "a"))
	require.NoError(t, r.Register("mango", "m"))

	assert.Equal(t, []string{"apple", "mango", "zebra"}, r.Names())
	assert.Equal(t, []string{"a", "m", "z"}, r.List())
}

func TestBaseRegistry_RemoveAndClear(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	require.Error(t, r.Remove("missing"))
	require.NoError(t, r.Remove("a"))
	assert.Equal(t, 0, r.Count())

	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))
	r.Clear()
	assert.Equal(t, 0, r.Count())
}

func TestBaseRegistry_Put(t *testing.T) {
	r := NewBaseRegistry[int]()
	r.Put("a", 1)
	r.Put("a", 2)

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}
