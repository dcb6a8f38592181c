package typeutil

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	set := NewSet("alice", "bob")
	set.Insert("alice")
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contain("alice", "bob"))
	assert.False(t, set.Contain("alice", "carol"))

	union := set.Union(NewSet("carol"))
	got := union.Collect()
	sort.Strings(got)
	assert.Equal(t, []string{"alice", "bob", "carol"}, got)
	assert.Equal(t, 2, set.Len())

	clone := set.Clone()
	clone.Remove("alice")
	assert.True(t, set.Contain("alice"))
	assert.False(t, clone.Contain("alice"))

	var nilSet Set[uint64]
	nilSet.Remove(1)
	assert.Equal(t, 0, nilSet.Len())
}
