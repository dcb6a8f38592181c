package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

// MemoryStore 是进程内的 Store 实现，重启后数据丢失。
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	messages []*Message
	byID     map[string]*Message
	users    []*User
	byName   map[string]*User
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Message),
		byName: make(map[string]*User),
	}
}

func (s *MemoryStore) InsertMessage(_ context.Context, from, to, text string, ts time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, merr.ErrStoreClosed
	}

	msg := &Message{
		ID:        newID(),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: normalizeTimestamp(ts),
	}
	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = msg
	return msg.Clone(), nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, from, to string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, merr.ErrStoreClosed
	}

	var n int64
	for _, msg := range s.messages {
		if msg.From == from && msg.To == to && !msg.Seen {
			msg.Seen = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindMessages(_ context.Context, userA, userB string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, merr.ErrStoreClosed
	}

	out := make([]*Message, 0)
	for _, msg := range s.messages {
		if (msg.From == userA && msg.To == userB) || (msg.From == userB && msg.To == userA) {
			out = append(out, msg.Clone())
		}
	}
	// 插入顺序即写入顺序，稳定排序保证同一时间戳下按写入顺序。
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, merr.ErrStoreClosed
	}

	if _, ok := s.byID[id]; !ok {
		return false, nil
	}
	delete(s.byID, id)
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStore) FindOrCreateUser(_ context.Context, username string) (*User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, merr.ErrStoreClosed
	}

	if u, ok := s.byName[username]; ok {
		c := *u
		return &c, false, nil
	}
	u := &User{ID: newID(), Username: username, CreatedAt: normalizeTimestamp(time.Now())}
	s.users = append(s.users, u)
	s.byName[username] = u
	c := *u
	return &c, true, nil
}

func (s *MemoryStore) ListUsers(context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, merr.ErrStoreClosed
	}

	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		c := *u
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, merr.ErrStoreClosed
	}

	u, ok := s.byName[username]
	if !ok {
		return nil, merr.WrapErrUserNotFound(username)
	}
	c := *u
	return &c, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
