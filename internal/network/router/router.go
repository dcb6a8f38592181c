package router

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/privchat-go/internal/json"
	"github.com/lk2023060901/privchat-go/internal/network/serializer"
	"github.com/lk2023060901/privchat-go/internal/network/session"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

// Handler 是框架暴露给业务层的通用处理函数签名。
//
// 说明：
//   - ctx ：请求级上下文，由调用方从会话上下文派生；
//   - sess：当前会话，用于发送响应或关联用户；
//   - req ：已经反序列化的请求对象，具体类型由 Route.NewRequest 决定；
//   - 返回：
//   - resp：可选的响应对象，为 nil 时表示无需自动发送；
//   - err ：业务执行失败时的错误，由上层决定如何记录或转换为 error 事件。
type Handler func(ctx context.Context, sess session.Session, req any) (resp any, err error)

// Route 描述一条路由规则：事件名 -> 请求类型 + 业务 Handler + 响应事件名。
type Route struct {
	// NewRequest 用于创建一个空的请求对象实例，必须返回指针。
	NewRequest func() any

	// Handler 为业务层实现的处理函数。
	Handler Handler

	// RespEvent 为自动响应使用的事件名。
	//
	// 为空时 Router 不会根据 Handler 返回值自动发送响应，
	// 业务可以在 Handler 内部自行调用 sess.Send 或通过广播发送。
	RespEvent string
}

// Router 维护事件名到路由规则的映射，并负责从信封到业务 Handler 的调度。
//
// 典型调用链（服务器侧）：
//  1. acceptor 读取文本帧并解码出 Envelope；
//  2. 上层调用 Router.Handle(ctx, sess, env.Event, env.Data)；
//  3. Router 根据事件名找到 Route，反序列化后调用 Handler；
//  4. 如有需要，通过 sess.Send 发送响应。
type Router interface {
	// Register 为事件注册一条路由规则，同一事件不允许重复注册。
	Register(event string, route Route) error

	// Handle 处理一条上行事件。
	//
	// 未注册的事件返回 merr.ErrProtocolUnknownEvent，
	// 负载无法反序列化时返回 merr.ErrProtocolMalformed。
	Handle(ctx context.Context, sess session.Session, event string, data json.RawMessage) error

	// Events 返回已注册的事件名。
	Events() []string
}

// defaultRouter 是 Router 接口的基础实现。
type defaultRouter struct {
	ser serializer.Serializer

	mu     sync.RWMutex
	routes map[string]Route
}

// 编译期断言：确保 defaultRouter 实现了 Router 接口。
var _ Router = (*defaultRouter)(nil)

// New 创建一个基于给定 Serializer 的 Router 实例，ser 为 nil 时使用 JSONSerializer。
func New(ser serializer.Serializer) Router {
	if ser == nil {
		ser = serializer.JSONSerializer{}
	}
	return &defaultRouter{
		ser:    ser,
		routes: make(map[string]Route),
	}
}

// Register 实现 Router.Register。
func (r *defaultRouter) Register(event string, route Route) error {
	if event == "" {
		return errors.New("router: event must not be empty")
	}
	if route.NewRequest == nil {
		return errors.Newf("router: NewRequest is nil for event=%s", event)
	}
	if route.Handler == nil {
		return errors.Newf("router: Handler is nil for event=%s", event)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[event]; exists {
		return errors.Newf("router: event=%s already registered", event)
	}
	r.routes[event] = route
	return nil
}

// Handle 实现 Router.Handle。
func (r *defaultRouter) Handle(ctx context.Context, sess session.Session, event string, data json.RawMessage) error {
	if sess == nil {
		return errors.New("router: session is nil")
	}

	r.mu.RLock()
	route, ok := r.routes[event]
	r.mu.RUnlock()
	if !ok {
		return merr.WrapErrProtocolUnknownEvent(event)
	}

	req := route.NewRequest()
	if req == nil {
		return errors.Newf("router: NewRequest returned nil for event=%s", event)
	}
	if len(data) > 0 {
		if err := r.ser.Unmarshal(data, req); err != nil {
			return merr.WrapErrProtocolMalformed(event, err)
		}
	}

	resp, err := route.Handler(ctx, sess, req)
	if err != nil {
		return err
	}
	if route.RespEvent == "" || resp == nil {
		return nil
	}
	if err := sess.Send(route.RespEvent, resp); err != nil {
		return errors.Wrapf(err, "router: send response failed for event=%s", event)
	}
	return nil
}

// Events 实现 Router.Events。
func (r *defaultRouter) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]string, 0, len(r.routes))
	for event := range r.routes {
		events = append(events, event)
	}
	return events
}
