package conc

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

func TestPoolSubmit(t *testing.T) {
	pool := NewPool[int](4, WithPreAlloc(true))
	defer pool.Release()

	futures := make([]*Future[int], 0, 16)
	for i := 0; i < 16; i++ {
		i := i
		futures = append(futures, pool.Submit(func() (int, error) {
			return i * 2, nil
		}))
	}
	require.NoError(t, AwaitAll(futures...))
	for i, f := range futures {
		assert.Equal(t, i*2, f.Value())
	}
	assert.Equal(t, 4, pool.Cap())
}

func TestPoolError(t *testing.T) {
	pool := NewPool[string](2)
	defer pool.Release()

	errBoom := errors.New("boom")
	f := pool.Submit(func() (string, error) { return "ignored", errBoom })
	v, err := f.Await()
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, v)
	assert.False(t, f.OK())
}

func TestPoolPanic(t *testing.T) {
	pool := NewPool[int](1)
	defer pool.Release()

	f := pool.Submit(func() (int, error) { panic("bad task") })
	err := f.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad task")

	// 池在 panic 后仍可用。
	assert.Equal(t, 1, pool.Submit(func() (int, error) { return 1, nil }).Value())
}

func TestPoolNonBlockingOverload(t *testing.T) {
	pool := NewPool[int](1, WithNonBlocking(true))
	defer pool.Release()

	release := make(chan struct{})
	started := make(chan struct{})
	busy := pool.Submit(func() (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started

	overload := pool.Submit(func() (int, error) { return 1, nil })
	assert.ErrorIs(t, overload.Err(), merr.ErrServiceTooManyRequests)

	close(release)
	assert.True(t, busy.OK())
}

func TestPreHandler(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	pool := NewPool[int](1, WithPreHandler(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}), WithExpiryDuration(time.Second))
	defer pool.Release()

	require.True(t, pool.Submit(func() (int, error) { return 0, nil }).OK())
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestGo(t *testing.T) {
	f := Go(func() (string, error) { return "done", nil })
	select {
	case <-f.Inner():
	case <-time.After(time.Second):
		t.Fatal("future not resolved")
	}
	assert.Equal(t, "done", f.Value())
}
