// Package store 定义消息与用户名的持久化接口及其实现。
//
// 实现：
//   - memory ：进程内实现，主要用于测试与本地开发；
//   - badger ：嵌入式 KV，记录使用 protowire 编码；
//   - sqlite ：基于 modernc.org/sqlite 的纯 Go 实现；
//   - postgres：基于 pgx 连接池。
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message 是一条已持久化的私聊消息。
//
// JSON 字段名与客户端约定保持一致（_id、timestamp 等）。
type Message struct {
	ID        string    `json:"_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Seen      bool      `json:"seen"`
}

// Clone 返回消息的副本，调用方可以自由修改。
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// User 是一个已登记的用户名。
type User struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store 是中继服务依赖的持久化接口，所有实现都必须并发安全。
type Store interface {
	// InsertMessage 持久化一条 seen=false 的消息并返回带 ID 的记录。
	InsertMessage(ctx context.Context, from, to, text string, ts time.Time) (*Message, error)

	// MarkSeen 把 from -> to 方向上所有未读消息标记为已读，返回更新条数。
	// 反方向的消息不受影响。
	MarkSeen(ctx context.Context, from, to string) (int64, error)

	// FindMessages 返回两人之间双向的全部消息，按时间升序，时间相同按写入顺序。
	FindMessages(ctx context.Context, userA, userB string) ([]*Message, error)

	// DeleteMessage 按 ID 删除消息，返回消息是否存在。
	DeleteMessage(ctx context.Context, id string) (bool, error)

	// FindOrCreateUser 登记用户名，created 表示本次是否新建。
	// 同一用户名的并发调用中恰好有一个返回 created=true。
	FindOrCreateUser(ctx context.Context, username string) (user *User, created bool, err error)

	// ListUsers 返回全部已登记用户，按登记顺序。
	ListUsers(ctx context.Context) ([]*User, error)

	// GetUser 查询单个用户，不存在时返回 merr.ErrUserNotFound。
	GetUser(ctx context.Context, username string) (*User, error)

	Close() error
}

// newID 生成按时间有序的 UUIDv7，生成失败时退回随机 UUID。
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// normalizeTimestamp 统一时间精度为毫秒并转换为 UTC，各实现读写一致。
func normalizeTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Truncate(time.Millisecond)
}

// pairKey 返回无序会话对的规范化键。
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// PairKey 供上层按会话对加锁使用，与参数顺序无关。
func PairKey(a, b string) string {
	return strings.ReplaceAll(pairKey(a, b), "\x00", "|")
}
