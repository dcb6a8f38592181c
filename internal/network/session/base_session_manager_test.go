package session

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSession 是仅用于管理器测试的最小 Session 实现。
type stubSession struct {
	id uint64

	mu     sync.Mutex
	events []string
}

func (s *stubSession) ID() uint64                   { return s.id }
func (s *stubSession) Context() context.Context     { return context.Background() }
func (s *stubSession) RemoteAddr() net.Addr         { return nil }
func (s *stubSession) LocalAddr() net.Addr          { return nil }
func (s *stubSession) Close() error                 { return nil }
func (s *stubSession) OnConnected()                 {}
func (s *stubSession) OnDisconnected(error)         {}
func (s *stubSession) Send(event string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func TestBaseSessionManager_RegisterUnregister(t *testing.T) {
	m := NewBaseSessionManager()

	require.NoError(t, m.Register(&stubSession{id: 1}))
	require.NoError(t, m.Register(&stubSession{id: 2}))
	assert.Error(t, m.Register(&stubSession{id: 1}))
	assert.Error(t, m.Register(nil))
	assert.Equal(t, 2, m.Count())

	sess, ok := m.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), sess.ID())

	require.NoError(t, m.Unregister(2))
	assert.Error(t, m.Unregister(2))
	_, ok = m.Get(2)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Count())
}

func TestBaseSessionManager_Range(t *testing.T) {
	m := NewBaseSessionManager()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, m.Register(&stubSession{id: i}))
	}

	visited := 0
	m.Range(func(sess Session) bool {
		visited++
		// 遍历期间修改索引不会影响本次快照。
		_ = m.Unregister(sess.ID())
		return true
	})
	assert.Equal(t, 5, visited)
	assert.Equal(t, 0, m.Count())

	require.NoError(t, m.Register(&stubSession{id: 9}))
	require.NoError(t, m.Register(&stubSession{id: 10}))
	visited = 0
	m.Range(func(Session) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)

	m.Range(nil)
}

func TestNextID(t *testing.T) {
	a := NextID()
	b := NextID()
	assert.Greater(t, b, a)
}
