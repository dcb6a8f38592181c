// Package broadcast 实现按用户名分组的事件投递。
package broadcast

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/privchat-go/internal/network/session"
	"github.com/lk2023060901/privchat-go/pkg/log"
	"github.com/lk2023060901/privchat-go/pkg/metrics"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

// Target 描述一次分组投递的目标。
//
// Except 为需要跳过的会话 ID，0 表示不跳过任何会话（会话 ID 从 1 开始）。
type Target struct {
	Username string
	Except   uint64
}

// Bus 维护用户名到会话集合的订阅表，以及会话到用户名的反向绑定。
//
// 说明：
//   - 一个会话最多绑定一个用户名，重新绑定会先退出旧分组；
//   - 所有投递都先在锁内复制快照，再在锁外逐个调用 Send，
//     投递过程中新加入的会话不会收到本次事件；
//   - Send 只做入队，单个慢连接不会阻塞其他会话。
type Bus struct {
	log.Binder

	sessions session.SessionManager

	mu       sync.RWMutex
	groups   map[string]map[uint64]session.Session
	bindings map[uint64]string
}

// NewBus 创建一个投递总线，sessions 用于 ToAll 遍历全部连接。
func NewBus(sessions session.SessionManager) *Bus {
	return &Bus{
		sessions: sessions,
		groups:   make(map[string]map[uint64]session.Session),
		bindings: make(map[uint64]string),
	}
}

// Subscribe 把会话加入 username 分组，返回会话此前绑定的用户名。
func (b *Bus) Subscribe(sess session.Session, username string) (previous string, rebound bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := sess.ID()
	if old, ok := b.bindings[id]; ok {
		if old == username {
			return old, false
		}
		b.leaveLocked(id, old)
		previous, rebound = old, true
	}

	group, ok := b.groups[username]
	if !ok {
		group = make(map[uint64]session.Session)
		b.groups[username] = group
	}
	group[id] = sess
	b.bindings[id] = username
	return previous, rebound
}

// Unsubscribe 解除会话的用户名绑定，返回解除前的用户名。
func (b *Bus) Unsubscribe(sess session.Session) (username string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := sess.ID()
	username, ok = b.bindings[id]
	if ok {
		b.leaveLocked(id, username)
	}
	return username, ok
}

func (b *Bus) leaveLocked(id uint64, username string) {
	delete(b.bindings, id)
	if group, ok := b.groups[username]; ok {
		delete(group, id)
		if len(group) == 0 {
			delete(b.groups, username)
		}
	}
}

// Username 返回会话当前绑定的用户名。
func (b *Bus) Username(sessionID uint64) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	name, ok := b.bindings[sessionID]
	return name, ok
}

// Group 返回 username 分组的会话快照。
func (b *Bus) Group(username string) []session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return lo.Values(b.groups[username])
}

// ToAll 向全部已连接会话投递事件，无论是否已绑定用户名。
func (b *Bus) ToAll(event string, payload any) int {
	targets := make([]session.Session, 0, b.sessions.Count())
	b.sessions.Range(func(sess session.Session) bool {
		targets = append(targets, sess)
		return true
	})
	return b.deliver(targets, event, payload)
}

// ToGroup 向 username 分组内的全部会话投递事件。
func (b *Bus) ToGroup(username, event string, payload any) int {
	return b.ToGroups(event, payload, Target{Username: username})
}

// ToGroups 向多个分组的并集投递事件，同一会话只投递一次。
func (b *Bus) ToGroups(event string, payload any, targets ...Target) int {
	seen := make(map[uint64]struct{})
	var recipients []session.Session

	b.mu.RLock()
	for _, t := range targets {
		for id, sess := range b.groups[t.Username] {
			if id == t.Except {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			recipients = append(recipients, sess)
		}
	}
	b.mu.RUnlock()

	return b.deliver(recipients, event, payload)
}

// deliver 逐个入队，返回成功入队的会话数。
func (b *Bus) deliver(recipients []session.Session, event string, payload any) int {
	delivered := 0
	for _, sess := range recipients {
		err := sess.Send(event, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, merr.ErrSessionQueueFull):
			metrics.DroppedEvents.WithLabelValues(event).Inc()
			b.Logger().RatedWarn(1, "send queue full, event dropped",
				log.FieldSessionID(sess.ID()), log.FieldEvent(event))
		case errors.Is(err, merr.ErrSessionClosed):
			// 会话正在断开，OnClosed 会负责清理订阅。
		default:
			b.Logger().Warn("deliver event failed",
				log.FieldSessionID(sess.ID()), log.FieldEvent(event), zap.Error(err))
		}
	}
	if delivered > 0 {
		metrics.OutboundEvents.WithLabelValues(event).Add(float64(delivered))
	}
	return delivered
}
