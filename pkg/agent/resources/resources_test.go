package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearest(t *testing.T) {
	set := NewSet(
		Resource{Index: 9, Data: []byte("nine")},
		Resource{Index: 1, Data: []byte("one")},
		Resource{Index: 5, Data: []byte("five")},
	)

	tests := []struct {
		name string
		want int
		got  int
	}{
		{"exact", 5, 5},
		{"closer below", 6, 5},
		{"closer above", 8, 9},
		{"tie prefers lower", 3, 1},
		{"before first", -4, 1},
		{"after last", 42, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := set.Nearest(tt.want)
			require.True(t, ok)
			assert.Equal(t, tt.got, r.Index)
		})
	}
}

func TestNearestEmpty(t *testing.T) {
	var nilSet *Set
	_, ok := nilSet.Nearest(1)
	assert.False(t, ok)

	_, ok = NewSet().Nearest(1)
	assert.False(t, ok)
}

func TestNewSetReplacesDuplicates(t *testing.T) {
	set := NewSet(Resource{Index: 2, Data: []byte("a")}, Resource{Index: 2, Data: []byte("b")})
	assert.Equal(t, []int{2}, set.Indexes())
	r, _ := set.Nearest(2)
	assert.Equal(t, "b", string(r.Data))
}

func TestDigestStable(t *testing.T) {
	a := Resource{Index: 1, Data: []byte("same")}
	b := Resource{Index: 7, Data: []byte("same")}
	assert.Equal(t, a.Digest(), b.Digest())
	assert.Len(t, a.Digest(), 64)
}
