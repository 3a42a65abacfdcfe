package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_DisplayPreinstalled(t *testing.T) {
	m := NewMap()

	o, ok := m.Lookup(DisplayObjectID)
	require.True(t, ok)
	assert.Equal(t, DisplayInterface, o.Interface)
	assert.Equal(t, 1, m.Len())
}

func TestMap_RegisterLookupUnregister(t *testing.T) {
	m := NewMap()

	require.NoError(t, m.Register(2, "wl_registry", 1))
	o, ok := m.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, "wl_registry", o.Interface)
	assert.Equal(t, uint32(1), o.Version)

	m.Unregister(2)
	_, ok = m.Lookup(2)
	assert.False(t, ok)
}

func TestMap_RegisterDuplicate(t *testing.T) {
	m := NewMap()

	require.NoError(t, m.Register(3, "wl_surface", 6))
	err := m.Register(3, "wl_region", 1)
	require.ErrorIs(t, err, ErrIDInUse)
}

func TestMap_RegisterNullID(t *testing.T) {
	m := NewMap()
	require.ErrorIs(t, m.Register(0, "wl_surface", 1), ErrNullID)
}

func TestMap_UnregisterUnknownIsNoop(t *testing.T) {
	m := NewMap()
	m.Unregister(1234)
	assert.Equal(t, 1, m.Len())
}

func TestServerAllocated(t *testing.T) {
	assert.False(t, ServerAllocated(1))
	assert.False(t, ServerAllocated(0xFEFFFFFF))
	assert.True(t, ServerAllocated(0xFF000000))
	assert.True(t, ServerAllocated(0xFF000001))
}

func TestRegistry_RecordRemove(t *testing.T) {
	r := NewRegistry()

	r.Record(7, "wl_compositor", 6, false)
	r.Record(8, "zwlr_screencopy_manager_v1", 3, true)

	g, ok := r.Lookup(8)
	require.True(t, ok)
	assert.True(t, g.Hidden)

	g, ok = r.Remove(8)
	require.True(t, ok)
	assert.Equal(t, "zwlr_screencopy_manager_v1", g.Interface)

	_, ok = r.Lookup(8)
	assert.False(t, ok)

	_, ok = r.Remove(8)
	assert.False(t, ok)
}

func TestToplevelContext(t *testing.T) {
	var tc ToplevelContext
	assert.False(t, tc.HasTitle)
	assert.False(t, tc.HasAppID)

	tc.SetTitle("Files")
	tc.SetAppID("org.gnome.Nautilus")
	assert.True(t, tc.HasTitle)
	assert.Equal(t, "Files", tc.Title)
	assert.True(t, tc.HasAppID)
	assert.Equal(t, "org.gnome.Nautilus", tc.AppID)

	// Latest write wins.
	tc.SetTitle("Files - Downloads")
	assert.Equal(t, "Files - Downloads", tc.Title)
}
