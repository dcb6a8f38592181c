// Package presence 维护当前在线用户名集合。
package presence

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/lk2023060901/privchat-go/pkg/metrics"
)

// Policy 决定同一用户名的多个连接之一断开时如何处理在线状态。
type Policy string

const (
	// PolicyRefCount 按用户名计数，只有最后一个连接断开才下线。
	PolicyRefCount Policy = "refcount"
	// PolicyLegacy 任一连接断开即下线，其余连接仍在但不再出现在在线列表中。
	PolicyLegacy Policy = "legacy"
)

// ParsePolicy 解析配置中的策略名，空字符串视为 PolicyRefCount。
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyRefCount:
		return PolicyRefCount, nil
	case PolicyLegacy:
		return PolicyLegacy, nil
	default:
		return "", errors.Newf("presence: unknown policy %q", s)
	}
}

// Registry 是进程内的在线用户表，并发安全。
//
// 不变量：PolicyRefCount 下，用户名出现在 Snapshot 中当且仅当其引用计数大于 0。
type Registry struct {
	policy Policy

	mu     sync.RWMutex
	counts map[string]int
}

// NewRegistry 创建一个空的在线用户表。
func NewRegistry(policy Policy) *Registry {
	if policy == "" {
		policy = PolicyRefCount
	}
	return &Registry{
		policy: policy,
		counts: make(map[string]int),
	}
}

// Policy 返回当前生效的下线策略。
func (r *Registry) Policy() Policy {
	return r.policy
}

// Add 为用户名增加一次引用，返回该用户名此前是否已在线。
func (r *Registry) Add(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.counts[username]
	r.counts[username] = n + 1
	metrics.OnlineUsers.Set(float64(len(r.counts)))
	return n > 0
}

// Remove 释放用户名的一次引用，返回用户名是否因此下线。
func (r *Registry) Remove(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.counts[username]
	if !ok {
		return false
	}
	if r.policy == PolicyLegacy || n <= 1 {
		delete(r.counts, username)
		metrics.OnlineUsers.Set(float64(len(r.counts)))
		return true
	}
	r.counts[username] = n - 1
	return false
}

// Contains 判断用户名是否在线。
func (r *Registry) Contains(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.counts[username]
	return ok
}

// Refs 返回用户名当前的引用计数。
func (r *Registry) Refs(username string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[username]
}

// Count 返回在线用户数。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.counts)
}

// Snapshot 返回按字典序排列的在线用户名。
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	names := lo.Keys(r.counts)
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
