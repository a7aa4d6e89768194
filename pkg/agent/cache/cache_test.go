package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsOrderIndependent(t *testing.T) {
	a := Key("render", map[string]interface{}{"page": "sha256:abc", "zoom": 2})
	b := Key("render", map[string]interface{}{"zoom": 2, "page": "sha256:abc"})
	c := Key("crop", map[string]interface{}{"zoom": 2, "page": "sha256:abc"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMemoryGetPut(t *testing.T) {
	m := NewMemory(2)

	_, ok := m.Get("k")
	assert.False(t, ok)

	m.PutAsync("k", []byte("v"), 0)
	got, ok := m.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))

	hits, lookups := m.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, lookups)
}

func TestMemoryTTL(t *testing.T) {
	m := NewMemory(0)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.PutAsync("k", []byte("v"), time.Minute)
	_, ok := m.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = m.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemory(2)
	m.PutAsync("a", []byte("1"), 0)
	m.PutAsync("b", []byte("2"), 0)
	m.Get("a")
	m.PutAsync("c", []byte("3"), 0)

	_, okA := m.Get("a")
	_, okB := m.Get("b")
	assert.True(t, okA)
	assert.False(t, okB)
}
