package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/privchat-go/pkg/metrics"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

// instrumented 为任意 Store 增加耗时指标，并把后端原始错误归类为 merr.ErrStoreFailed。
type instrumented struct {
	inner   Store
	backend string
}

// Instrument 包装 s；backend 作为指标标签。
func Instrument(s Store, backend string) Store {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{inner: s, backend: backend}
}

func (s *instrumented) observe(op string, start time.Time, err error) error {
	result := metrics.SuccessLabel
	if err != nil {
		result = metrics.FailLabel
	}
	metrics.StoreLatency.WithLabelValues(s.backend, op, result).
		Observe(float64(time.Since(start).Microseconds()) / 1000)
	return classify(op, err)
}

// classify 保留已经是领域错误的结果，其余包装为可重试的存储失败。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsAny(err, merr.ErrUserNotFound, merr.ErrMessageNotFound, merr.ErrStoreClosed, merr.ErrStoreFailed) ||
		merr.IsCanceledOrTimeout(err) {
		return err
	}
	return merr.WrapErrStoreFailed(op, err)
}

func (s *instrumented) InsertMessage(ctx context.Context, from, to, text string, ts time.Time) (msg *Message, err error) {
	defer func(start time.Time) { err = s.observe("insert_message", start, err) }(time.Now())
	return s.inner.InsertMessage(ctx, from, to, text, ts)
}

func (s *instrumented) MarkSeen(ctx context.Context, from, to string) (n int64, err error) {
	defer func(start time.Time) { err = s.observe("mark_seen", start, err) }(time.Now())
	return s.inner.MarkSeen(ctx, from, to)
}

func (s *instrumented) FindMessages(ctx context.Context, userA, userB string) (msgs []*Message, err error) {
	defer func(start time.Time) { err = s.observe("find_messages", start, err) }(time.Now())
	return s.inner.FindMessages(ctx, userA, userB)
}

func (s *instrumented) DeleteMessage(ctx context.Context, id string) (found bool, err error) {
	defer func(start time.Time) { err = s.observe("delete_message", start, err) }(time.Now())
	return s.inner.DeleteMessage(ctx, id)
}

func (s *instrumented) FindOrCreateUser(ctx context.Context, username string) (u *User, created bool, err error) {
	defer func(start time.Time) { err = s.observe("find_or_create_user", start, err) }(time.Now())
	return s.inner.FindOrCreateUser(ctx, username)
}

func (s *instrumented) ListUsers(ctx context.Context) (users []*User, err error) {
	defer func(start time.Time) { err = s.observe("list_users", start, err) }(time.Now())
	return s.inner.ListUsers(ctx)
}

func (s *instrumented) GetUser(ctx context.Context, username string) (u *User, err error) {
	defer func(start time.Time) {
		// 用户不存在是正常的查询结果，不计为失败。
		obsErr := err
		if errors.Is(err, merr.ErrUserNotFound) {
			obsErr = nil
		}
		if e := s.observe("get_user", start, obsErr); obsErr != nil {
			err = e
		}
	}(time.Now())
	return s.inner.GetUser(ctx, username)
}

func (s *instrumented) Close() error {
	return classify("close", s.inner.Close())
}

// Backend 返回指标中使用的后端名。
func (s *instrumented) Backend() string {
	return s.backend
}
