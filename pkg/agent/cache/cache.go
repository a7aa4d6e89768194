// Package cache stores binary tool results keyed by tool name and normalized arguments.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Cache is the binary cache collaborator used by the dispatcher.
//
// PutAsync must not block the caller and may drop writes; a missed write
// only costs a recomputation.
type Cache interface {
	Get(key string) ([]byte, bool)
	PutAsync(key string, data []byte, ttl time.Duration)
}

// Key derives a stable cache key from a tool name and normalized arguments.
// encoding/json sorts map keys, so equal argument maps produce equal keys.
func Key(tool string, normalizedArgs map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	b, err := json.Marshal(normalizedArgs)
	if err != nil {
		// Unencodable arguments never collide with a valid key.
		b = []byte(err.Error())
	}
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	data    []byte
	expires time.Time
}

// Memory is an in-process LRU cache with per-entry TTL.
type Memory struct {
	mu    sync.Mutex
	lru   *lru.Cache
	now   func() time.Time
	hits  int
	total int
}

// NewMemory creates a cache holding at most maxEntries items (0 means unbounded).
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		lru: lru.New(maxEntries),
		now: time.Now,
	}
}

// Get returns a live entry.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.lru.Remove(key)
		return nil, false
	}
	m.hits++
	return e.data, true
}

// PutAsync stores data. The in-memory store is fast enough to write inline.
func (m *Memory) PutAsync(key string, data []byte, ttl time.Duration) {
	e := entry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, e)
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Stats returns lookups served and total lookups.
func (m *Memory) Stats() (hits, lookups int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.total
}
