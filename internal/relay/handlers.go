package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/privchat-go/internal/broadcast"
	"github.com/lk2023060901/privchat-go/internal/network/session"
	"github.com/lk2023060901/privchat-go/internal/store"
	"github.com/lk2023060901/privchat-go/pkg/log"
)

// handleJoin 绑定（或重新绑定）用户名，并向所有连接广播在线列表。
//
// 同一连接重复 join 同一用户名不会重复计数，但仍会广播。
func (s *Service) handleJoin(ctx context.Context, sess session.Session, req any) (any, error) {
	username := req.(*JoinRequest).Username

	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	previous, rebound := s.bus.Subscribe(sess, username)
	switch {
	case rebound:
		s.presence.Remove(previous)
		s.presence.Add(username)
	case previous == username:
	default:
		s.presence.Add(username)
	}
	online := s.presence.Snapshot()
	s.bus.ToAll(EventUpdateUserStatus, online)

	log.Ctx(ctx).Info("user joined",
		log.FieldUsername(username),
		zap.String("previous", previous),
		zap.Int("online", len(online)))
	return nil, nil
}

// handleDisconnect 解除会话绑定并广播在线列表，返回会话此前绑定的用户名。
//
// 未 join 的会话断开同样会触发广播。
func (s *Service) handleDisconnect(sess session.Session) string {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	username, bound := s.bus.Unsubscribe(sess)
	if bound {
		s.presence.Remove(username)
	}
	s.bus.ToAll(EventUpdateUserStatus, s.presence.Snapshot())
	return username
}

// handlePrivateMessage 持久化消息后投递给发送方的其他连接与接收方的全部连接。
//
// 持久化失败时不做任何投递。
func (s *Service) handlePrivateMessage(ctx context.Context, sess session.Session, req any) (any, error) {
	r := req.(*PrivateMessageRequest)
	if bound, ok := s.bus.Username(sess.ID()); ok && bound != r.From {
		log.Ctx(ctx).RatedWarn(1, "message sender differs from session binding",
			zap.String("bound", bound),
			zap.String("from", r.From))
	}

	unlock := s.convLocks.Lock(store.PairKey(r.From, r.To))
	defer unlock()

	msg, err := runStore(ctx, s, func(ctx context.Context) (*store.Message, error) {
		return s.store.InsertMessage(ctx, r.From, r.To, r.Text, time.Now())
	})
	if err != nil {
		return nil, err
	}

	delivered := s.bus.ToGroups(EventPrivateMessage, msg,
		broadcast.Target{Username: r.From, Except: sess.ID()},
		broadcast.Target{Username: r.To},
	)
	log.Ctx(ctx).Debug("private message relayed",
		zap.String("id", msg.ID),
		zap.String("from", r.From),
		zap.String("to", r.To),
		zap.Int("delivered", delivered))
	return nil, nil
}

// handleMarkAsSeen 把 from -> to 方向的未读消息置为已读，并通知双方的全部连接。
func (s *Service) handleMarkAsSeen(ctx context.Context, _ session.Session, req any) (any, error) {
	r := req.(*MarkAsSeenRequest)

	unlock := s.convLocks.Lock(store.PairKey(r.From, r.To))
	defer unlock()

	n, err := runStore(ctx, s, func(ctx context.Context) (int64, error) {
		return s.store.MarkSeen(ctx, r.From, r.To)
	})
	if err != nil {
		return nil, err
	}

	s.bus.ToGroups(EventMessagesSeen, SeenPayload{From: r.From, To: r.To},
		broadcast.Target{Username: r.From},
		broadcast.Target{Username: r.To},
	)
	log.Ctx(ctx).Debug("messages marked seen",
		zap.String("from", r.From),
		zap.String("to", r.To),
		zap.Int64("updated", n))
	return nil, nil
}
