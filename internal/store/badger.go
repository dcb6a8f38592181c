package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"

	"github.com/lk2023060901/privchat-go/pkg/log"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
	"github.com/lk2023060901/privchat-go/pkg/util/retry"
)

// badger 键布局：
//
//	msg:{min}\x00{max}:{unix ms 19 位}:{id} -> message record
//	mid:{id}                                -> 上面的消息键
//	user:{username}                         -> user record
//
// 同一会话对的消息在键空间内按时间有序，ID 为 UUIDv7，同一毫秒内按生成顺序。
const (
	msgPrefix  = "msg:"
	midPrefix  = "mid:"
	userPrefix = "user:"
)

// BadgerStore 是基于 dgraph-io/badger 的 Store 实现。
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger 打开（或创建）path 下的 badger 数据库；path 为空时使用纯内存模式。
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log.With(log.FieldComponent("badger"))})
	if strings.TrimSpace(path) == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger at %q", path)
	}
	return &BadgerStore{db: db}, nil
}

func messageKey(m *Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", msgPrefix, pairKey(m.From, m.To), m.Timestamp.UnixMilli(), m.ID))
}

func pairPrefix(a, b string) []byte {
	return []byte(msgPrefix + pairKey(a, b) + ":")
}

// update 执行读写事务，遇到事务冲突时重试。
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return retry.Do(ctx, func() error {
		return s.db.Update(fn)
	},
		retry.Attempts(8),
		retry.Sleep(time.Millisecond),
		retry.MaxSleepTime(50*time.Millisecond),
		retry.RetryErr(func(err error) bool { return errors.Is(err, badger.ErrConflict) }),
	)
}

func (s *BadgerStore) InsertMessage(ctx context.Context, from, to, text string, ts time.Time) (*Message, error) {
	msg := &Message{
		ID:        newID(),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: normalizeTimestamp(ts),
	}
	key := messageKey(msg)
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(key, marshalMessage(msg)); err != nil {
			return err
		}
		return txn.Set([]byte(midPrefix+msg.ID), key)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// scanPair 遍历会话对前缀下的全部消息，fn 返回 false 时停止。
func scanPair(txn *badger.Txn, a, b string, fn func(key []byte, m *Message) (bool, error)) error {
	prefix := pairPrefix(a, b)
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var m *Message
		if err := item.Value(func(val []byte) error {
			var err error
			m, err = unmarshalMessage(val)
			return err
		}); err != nil {
			return errors.Wrapf(err, "key=%q", item.Key())
		}
		// 用户名中可能含有分隔符，前缀匹配之后再按记录内容确认。
		if pairKey(m.From, m.To) != pairKey(a, b) {
			continue
		}
		cont, err := fn(item.KeyCopy(nil), m)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (s *BadgerStore) MarkSeen(ctx context.Context, from, to string) (int64, error) {
	var n int64
	err := s.update(ctx, func(txn *badger.Txn) error {
		n = 0
		var keys [][]byte
		var records []*Message
		err := scanPair(txn, from, to, func(key []byte, m *Message) (bool, error) {
			if m.From == from && m.To == to && !m.Seen {
				m.Seen = true
				keys = append(keys, key)
				records = append(records, m)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		for i := range keys {
			if err := txn.Set(keys[i], marshalMessage(records[i])); err != nil {
				return err
			}
		}
		n = int64(len(keys))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *BadgerStore) FindMessages(_ context.Context, userA, userB string) ([]*Message, error) {
	out := make([]*Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPair(txn, userA, userB, func(_ []byte, m *Message) (bool, error) {
			out = append(out, m)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		found = false
		item, err := txn.Get([]byte(midPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		found = true
		return txn.Delete([]byte(midPrefix + id))
	})
	return found, err
}

func (s *BadgerStore) FindOrCreateUser(ctx context.Context, username string) (*User, bool, error) {
	var (
		user    *User
		created bool
	)
	key := []byte(userPrefix + username)
	err := s.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			created = false
			return item.Value(func(val []byte) error {
				user, err = unmarshalUser(val)
				return err
			})
		case errors.Is(err, badger.ErrKeyNotFound):
			user = &User{ID: newID(), Username: username, CreatedAt: normalizeTimestamp(time.Now())}
			created = true
			return txn.Set(key, marshalUser(user))
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

func (s *BadgerStore) ListUsers(context.Context) ([]*User, error) {
	out := make([]*User, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userPrefix)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				u, err := unmarshalUser(val)
				if err != nil {
					return err
				}
				out = append(out, u)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// 键按用户名有序，ListUsers 需要按登记顺序：UUIDv7 与登记时间同序。
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *BadgerStore) GetUser(_ context.Context, username string) (*User, error) {
	var user *User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			user, err = unmarshalUser(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, merr.WrapErrUserNotFound(username)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger 把 badger 的日志接到 zap，Info 及以下降为 Debug。
type badgerLogger struct {
	l *log.MLogger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
