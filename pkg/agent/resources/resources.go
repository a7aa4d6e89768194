// Package resources holds the indexed binary inputs (e.g. rendered pages) that
// tool arguments of type resource are bound to.
package resources

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Resource is one indexed binary input.
type Resource struct {
	Data     []byte
	MimeType string
	Index    int
}

// Digest returns the hex SHA-256 of the resource content.
func (r Resource) Digest() string {
	sum := sha256.Sum256(r.Data)
	return hex.EncodeToString(sum[:])
}

// Set is an immutable collection of resources ordered by index.
// A nil *Set is valid and empty.
type Set struct {
	items []Resource
}

// NewSet builds a set. Later items replace earlier ones with the same index.
func NewSet(items ...Resource) *Set {
	byIndex := make(map[int]Resource, len(items))
	for _, it := range items {
		byIndex[it.Index] = it
	}
	sorted := make([]Resource, 0, len(byIndex))
	for _, it := range byIndex {
		sorted = append(sorted, it)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return &Set{items: sorted}
}

// Len returns the number of resources.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Indexes returns the available indexes in ascending order.
func (s *Set) Indexes() []int {
	if s == nil {
		return nil
	}
	out := make([]int, len(s.items))
	for i, it := range s.items {
		out[i] = it.Index
	}
	return out
}

// Nearest returns the resource whose index is closest to want.
// An exact match wins; on equal distance the lower index wins.
func (s *Set) Nearest(want int) (Resource, bool) {
	if s.Len() == 0 {
		return Resource{}, false
	}

	// First item with Index >= want.
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].Index >= want })

	switch {
	case i < len(s.items) && s.items[i].Index == want:
		return s.items[i], true
	case i == 0:
		return s.items[0], true
	case i == len(s.items):
		return s.items[len(s.items)-1], true
	}

	below, above := s.items[i-1], s.items[i]
	if want-below.Index <= above.Index-want {
		return below, true
	}
	return above, true
}
