package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryInsertLookupRemove(t *testing.T) {
	r := NewRegistry()
	h := NewSessionHandler("sess-1", RoleClient, nil)

	_, replaced := r.Insert("sess-1", h)
	assert.False(t, replaced)

	got, ok := r.Lookup("sess-1")
	assert.True(t, ok)
	assert.Same(t, h, got)
	assert.Equal(t, 1, r.Size())

	r.Remove("sess-1", h)
	_, ok = r.Lookup("sess-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size())
}

func TestRegistryInsertReplaceTracksDisplaced(t *testing.T) {
	r := NewRegistry()
	first := NewSessionHandler("sess-1", RoleClient, nil)
	second := NewSessionHandler("sess-1", RoleClient, nil)

	r.Insert("sess-1", first)
	previous, replaced := r.Insert("sess-1", second)

	assert.True(t, replaced)
	assert.Same(t, first, previous)
	assert.True(t, r.WasRecentlyDisplaced("sess-1"))

	got, _ := r.Lookup("sess-1")
	assert.Same(t, second, got)
}

func TestRegistryRemoveIsNoopForStaleHandler(t *testing.T) {
	r := NewRegistry()
	first := NewSessionHandler("sess-1", RoleClient, nil)
	second := NewSessionHandler("sess-1", RoleClient, nil)

	r.Insert("sess-1", first)
	r.Insert("sess-1", second)

	// A teardown callback firing late for the displaced handler must not
	// remove its replacement.
	r.Remove("sess-1", first)

	got, ok := r.Lookup("sess-1")
	assert.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistryNeverRemovesSystemSession(t *testing.T) {
	r := NewRegistry()
	h := NewSessionHandler(SystemSessionID, RoleSystem, nil)
	r.Insert(SystemSessionID, h)

	r.Remove(SystemSessionID, h)

	_, ok := r.Lookup(SystemSessionID)
	assert.True(t, ok)
}
