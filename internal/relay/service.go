// Package relay 实现私聊中继的协议处理：join、privateMessage、markAsSeen 与断开。
package relay

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lk2023060901/privchat-go/internal/broadcast"
	network "github.com/lk2023060901/privchat-go/internal/network"
	"github.com/lk2023060901/privchat-go/internal/network/acceptor"
	"github.com/lk2023060901/privchat-go/internal/network/router"
	"github.com/lk2023060901/privchat-go/internal/network/session"
	"github.com/lk2023060901/privchat-go/internal/presence"
	"github.com/lk2023060901/privchat-go/internal/store"
	"github.com/lk2023060901/privchat-go/pkg/log"
	"github.com/lk2023060901/privchat-go/pkg/metrics"
	"github.com/lk2023060901/privchat-go/pkg/util/conc"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
	"github.com/lk2023060901/privchat-go/pkg/util/typeutil"
)

const tracerName = "privchat.relay"

// Config 描述中继服务的行为参数。
type Config struct {
	// PresencePolicy 为 refcount（默认）或 legacy。
	PresencePolicy string `mapstructure:"presence_policy" yaml:"presence_policy" json:"presence_policy"`
	// StorePoolSize 为执行存储调用的协程池容量，<= 0 时使用 GOMAXPROCS。
	StorePoolSize int `mapstructure:"store_pool_size" yaml:"store_pool_size" json:"store_pool_size"`
	// StoreTimeout 为单次存储调用的超时时间。
	StoreTimeout time.Duration `mapstructure:"store_timeout" yaml:"store_timeout" json:"store_timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		PresencePolicy: string(presence.PolicyRefCount),
		StorePoolSize:  64,
		StoreTimeout:   5 * time.Second,
	}
}

// Service 是中继的业务核心，同时实现 acceptor.AcceptorHandler。
//
// 并发约定：
//   - presenceMu 覆盖“修改在线表 + 生成快照 + 广播”，保证各连接看到的在线列表变化顺序一致；
//   - 同一会话对（无序）的持久化与投递由 convLocks 串行化，保证会话内消息顺序与存储顺序一致；
//   - 不同会话对之间没有顺序保证。
type Service struct {
	log.Binder

	cfg      Config
	store    store.Store
	sessions session.SessionManager
	presence *presence.Registry
	bus      *broadcast.Bus
	router   router.Router
	pool     *conc.Pool[any]
	validate *validator.Validate

	presenceMu sync.Mutex
	convLocks  *keyLock
	events     typeutil.Set[string]
}

var _ acceptor.AcceptorHandler = (*Service)(nil)

// NewService 创建中继服务。sessions 必须与 acceptor 使用同一个会话索引。
func NewService(cfg Config, st store.Store, sessions session.SessionManager) (*Service, error) {
	if st == nil {
		return nil, errors.New("relay: store is nil")
	}
	if sessions == nil {
		return nil, errors.New("relay: session manager is nil")
	}
	def := DefaultConfig()
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	policy, err := presence.ParsePolicy(cfg.PresencePolicy)
	if err != nil {
		return nil, err
	}
	cfg.PresencePolicy = string(policy)

	s := &Service{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		presence:  presence.NewRegistry(policy),
		bus:       broadcast.NewBus(sessions),
		router:    router.New(nil),
		pool:      conc.NewPool[any](cfg.StorePoolSize),
		validate:  newValidator(),
		convLocks: newKeyLock(),
	}
	if err := s.registerRoutes(); err != nil {
		s.pool.Release()
		return nil, err
	}
	s.events = typeutil.NewSet(s.router.Events()...)
	return s, nil
}

// SetLogger 同时为内部广播总线设置模块 Logger。
func (s *Service) SetLogger(l *log.MLogger) {
	s.Binder.SetLogger(l)
	s.bus.SetLogger(l)
}

// Presence 返回在线用户表，只读使用。
func (s *Service) Presence() *presence.Registry {
	return s.presence
}

// SessionCount 返回当前连接数。
func (s *Service) SessionCount() int {
	return s.sessions.Count()
}

// OnlineCount 返回当前在线用户数。
func (s *Service) OnlineCount() int {
	return s.presence.Count()
}

// Close 释放存储协程池，已提交的任务会执行完毕。
func (s *Service) Close() {
	s.pool.Release()
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 错误信息中使用 JSON 字段名，与客户端看到的字段一致。
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) registerRoutes() error {
	routes := map[string]router.Route{
		EventJoin: {
			NewRequest: func() any { return &JoinRequest{} },
			Handler:    s.validated(s.handleJoin),
		},
		EventPrivateMessage: {
			NewRequest: func() any { return &PrivateMessageRequest{} },
			Handler:    s.validated(s.handlePrivateMessage),
		},
		EventMarkAsSeen: {
			NewRequest: func() any { return &MarkAsSeenRequest{} },
			Handler:    s.validated(s.handleMarkAsSeen),
		},
	}
	for event, route := range routes {
		if err := s.router.Register(event, route); err != nil {
			return err
		}
	}
	return nil
}

// validated 在调用业务处理前校验请求结构体。
func (s *Service) validated(h router.Handler) router.Handler {
	return func(ctx context.Context, sess session.Session, req any) (any, error) {
		if err := s.validate.Struct(req); err != nil {
			return nil, validationError(err)
		}
		return h(ctx, sess, req)
	}
}

// validationError 把 validator 的错误转换为 merr 参数错误（输入类错误）。
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return merr.WrapErrParameterInvalidMsg("%s", err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return merr.WrapErrParameterMissing(fe.Field())
	case "max":
		limit, _ := strconv.Atoi(fe.Param())
		return merr.WrapErrParameterTooLarge(fe.Field(), limit)
	default:
		return merr.WrapErrParameterInvalidMsg("field %s failed on %s", fe.Field(), fe.Tag())
	}
}

// OnConnected 实现 acceptor.AcceptorHandler。
func (s *Service) OnConnected(sess session.Session) {
	s.Logger().Debug("session connected",
		log.FieldSessionID(sess.ID()),
		log.FieldRemoteAddr(sess.RemoteAddr()))
}

// OnMessage 实现 acceptor.AcceptorHandler。
func (s *Service) OnMessage(sess session.Session, env *network.Envelope) {
	start := time.Now()
	label := env.Event
	if !s.events.Contain(label) {
		label = "unknown"
	}

	ctx, span := log.NewIntentContext(sess.Context(), tracerName, label)
	defer span.End()
	ctx = log.WithFields(ctx, log.FieldSessionID(sess.ID()), log.FieldEvent(env.Event))

	err := s.router.Handle(ctx, sess, env.Event, env.Data)
	s.report(ctx, sess, env.Event, err)

	result := metrics.SuccessLabel
	switch {
	case err == nil:
	case merr.IsInputError(err):
		result = metrics.InputLabel
	default:
		result = metrics.FailLabel
	}
	metrics.InboundEvents.WithLabelValues(label, result).Inc()
	metrics.EventLatency.WithLabelValues(label).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

// OnClosed 实现 acceptor.AcceptorHandler，对应协议中的 disconnect。
func (s *Service) OnClosed(sess session.Session, cause error) {
	username := s.handleDisconnect(sess)

	fields := []zap.Field{log.FieldSessionID(sess.ID()), log.FieldUsername(username)}
	if cause != nil {
		s.Logger().Info("session closed", append(fields, zap.Error(cause))...)
		return
	}
	s.Logger().Debug("session closed", fields...)
}

// OnError 实现 acceptor.AcceptorHandler。
func (s *Service) OnError(sess session.Session, stage network.Stage, err error) {
	if sess == nil {
		s.Logger().RatedInfo(1, "handshake rejected", zap.String("stage", string(stage)), zap.Error(err))
		return
	}
	if stage == network.StageDecode {
		// 无法解析的帧视为输入错误，回送给发起方。
		s.report(sess.Context(), sess, "", merr.WrapErrProtocolMalformed("", err))
		metrics.InboundEvents.WithLabelValues("unknown", metrics.InputLabel).Inc()
		return
	}
	s.Logger().RatedWarn(1, "session error",
		log.FieldSessionID(sess.ID()),
		zap.String("stage", string(stage)),
		zap.Error(err))
}

// report 是事件处理结果的唯一出口：
//   - 输入类错误回送 error 事件给发起会话；
//   - 其余错误只记录日志，不向任何客户端暴露。
func (s *Service) report(ctx context.Context, sess session.Session, event string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if merr.IsInputError(err) {
		log.Ctx(ctx).Debug("reject inbound event", zap.Error(err))
		payload := ErrorPayload{Event: event, Code: merr.Code(err), Message: merr.Message(err)}
		if sendErr := sess.Send(EventError, payload); sendErr != nil {
			log.Ctx(ctx).Debug("send error event failed", zap.Error(sendErr))
		}
		return
	}
	log.Ctx(ctx).Warn("handle inbound event failed", zap.Error(err))
}

// runStore 在存储协程池上执行 fn，并附加超时。
//
// 存储调用不随会话上下文取消：发送方在写入途中断开，消息仍然落库。
func runStore[T any](ctx context.Context, s *Service, fn func(ctx context.Context) (T, error)) (T, error) {
	future := s.pool.Submit(func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
		defer cancel()
		return fn(sctx)
	})
	v, err := future.Await()
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
