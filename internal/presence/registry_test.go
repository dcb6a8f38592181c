package presence

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyRefCount, p)

	p, err = ParsePolicy(" Legacy ")
	require.NoError(t, err)
	assert.Equal(t, PolicyLegacy, p)

	_, err = ParsePolicy("lru")
	assert.Error(t, err)
}

func TestRegistry_RefCount(t *testing.T) {
	r := NewRegistry(PolicyRefCount)

	assert.False(t, r.Add("alice"))
	assert.True(t, r.Add("alice"))
	assert.False(t, r.Add("bob"))
	assert.Equal(t, []string{"alice", "bob"}, r.Snapshot())
	assert.Equal(t, 2, r.Refs("alice"))

	assert.False(t, r.Remove("alice"))
	assert.True(t, r.Contains("alice"))
	assert.True(t, r.Remove("alice"))
	assert.False(t, r.Contains("alice"))
	assert.False(t, r.Remove("alice"))

	assert.Equal(t, []string{"bob"}, r.Snapshot())
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Legacy(t *testing.T) {
	r := NewRegistry(PolicyLegacy)
	r.Add("alice")
	r.Add("alice")

	assert.True(t, r.Remove("alice"))
	assert.Empty(t, r.Snapshot())
}

// 任意 join/disconnect 序列后，Snapshot 恰好等于引用计数为正的用户名集合。
func TestRegistry_SnapshotMatchesPositiveRefs(t *testing.T) {
	r := NewRegistry(PolicyRefCount)
	model := map[string]int{}
	names := []string{"a", "b", "c", "d"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		name := names[rng.Intn(len(names))]
		if rng.Intn(2) == 0 {
			r.Add(name)
			model[name]++
		} else if model[name] > 0 {
			r.Remove(name)
			model[name]--
		}

		var want []string
		for _, n := range names {
			if model[n] > 0 {
				want = append(want, n)
			}
		}
		if want == nil {
			want = []string{}
		}
		require.Equal(t, want, r.Snapshot())
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(PolicyRefCount)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add("alice")
			_ = r.Snapshot()
			r.Remove("alice")
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Count())
}
