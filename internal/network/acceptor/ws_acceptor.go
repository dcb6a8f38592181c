package acceptor

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	network "github.com/lk2023060901/privchat-go/internal/network"
	"github.com/lk2023060901/privchat-go/internal/network/session"
	"github.com/lk2023060901/privchat-go/pkg/metrics"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
	"github.com/lk2023060901/privchat-go/pkg/util/typeutil"
)

// WSAcceptor 是基于 gorilla/websocket 的 Acceptor 实现。
//
// 设计目标：
//   - 对外只暴露 http.Handler 和回调，不绑定具体业务逻辑；
//   - 每个连接一个读协程负责读帧与解码，一个处理协程按顺序回调 OnMessage，
//     保证同一 Session 上的业务处理串行执行；
//   - 会话的发送协程由 session.WSSession 自行管理。
type WSAcceptor struct {
	cfg      Config
	upgrader *websocket.Upgrader
	handler  AcceptorHandler
	sessions *session.BaseSessionManager

	origins typeutil.Set[string]
	version semver.Range

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// 确保 WSAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*WSAcceptor)(nil)

// NewWSAcceptor 创建一个 WebSocket 接入器。
//
// 参数：
//   - cfg：接入层配置，零值字段使用 DefaultConfig 中的默认值；
//   - sm ：会话索引，可为 nil；业务层需要遍历全部连接时应传入共享的实例；
//   - h  ：业务回调，不能为空。
func NewWSAcceptor(cfg Config, sm *session.BaseSessionManager, h AcceptorHandler) (*WSAcceptor, error) {
	if h == nil {
		return nil, errors.New("acceptor: handler is nil")
	}
	if sm == nil {
		sm = session.NewBaseSessionManager()
	}
	cfg = cfg.withDefaults()

	version, err := parseRange(cfg.ProtocolRange)
	if err != nil {
		return nil, errors.Wrapf(err, "acceptor: invalid protocol range %q", cfg.ProtocolRange)
	}

	a := &WSAcceptor{
		cfg:      cfg,
		handler:  h,
		sessions: sm,
		origins:  typeutil.NewSet(cfg.AllowedOrigins...),
		version:  version,
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if cfg.Upgrader != nil {
		a.upgrader = cfg.Upgrader
	} else {
		a.upgrader = &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		}
	}
	if a.upgrader.CheckOrigin == nil {
		a.upgrader.CheckOrigin = a.checkOrigin
	}
	return a, nil
}

// Path 返回接入器期望挂载的 HTTP 路径。
func (a *WSAcceptor) Path() string {
	return a.cfg.Path
}

// Sessions 实现 Acceptor.Sessions。
func (a *WSAcceptor) Sessions() []session.Session {
	return a.sessions.Snapshot()
}

// SessionManager 返回接入器内部维护的会话索引。
func (a *WSAcceptor) SessionManager() session.SessionManager {
	return a.sessions
}

// Close 实现 Acceptor.Close。
func (a *WSAcceptor) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.cancel()
	for _, sess := range a.sessions.Snapshot() {
		_ = sess.Close()
	}
	a.wg.Wait()
	return nil
}

func (a *WSAcceptor) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(a.origins) == 0 {
		return true
	}
	return a.origins.Contain(strings.TrimRight(origin, "/"))
}

// checkVersion 校验客户端可选携带的协议版本号。
func (a *WSAcceptor) checkVersion(r *http.Request) error {
	raw := r.URL.Query().Get("v")
	if raw == "" || a.version == nil {
		return nil
	}
	v, err := semver.ParseTolerant(raw)
	if err != nil || !a.version(v) {
		return merr.WrapErrProtocolVersion(raw, a.cfg.ProtocolRange)
	}
	return nil
}

// ServeHTTP 实现 http.Handler，完成握手后阻塞直至该连接结束。
func (a *WSAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.closed.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if err := a.checkVersion(r); err != nil {
		a.reportError(nil, network.StageHandshake, err)
		http.Error(w, err.Error(), http.StatusUpgradeRequired)
		return
	}
	if !a.upgrader.CheckOrigin(r) {
		a.reportError(nil, network.StageHandshake,
			errors.Wrapf(network.ErrOriginRejected, "origin=%s", r.Header.Get("Origin")))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写出了错误响应。
		a.reportError(nil, network.StageHandshake, errors.Wrap(network.ErrHandshakeFailed, err.Error()))
		return
	}

	a.wg.Add(1)
	defer a.wg.Done()
	a.handleConnection(conn)
}

// handleConnection 处理单个连接的生命周期。
//
// 流程：
//  1. 创建 WSSession 并注册到会话索引；
//  2. 调用 sess.OnConnected 与 Handler.OnConnected；
//  3. 读协程循环读取并解码信封，投递到 per-session 队列；
//  4. 当前协程按顺序从队列中取出信封并回调 Handler.OnMessage；
//  5. 读失败后关闭会话、注销索引，最后回调 Handler.OnClosed。
func (a *WSAcceptor) handleConnection(conn *websocket.Conn) {
	sess := session.NewWSSession(a.ctx, session.NextID(), conn, session.WSOptions{
		SendQueueSize: a.cfg.SendQueueSize,
		WriteTimeout:  a.cfg.WriteTimeout,
		PingInterval:  a.cfg.PingInterval,
		Serializer:    a.cfg.Serializer,
		OnError:       a.reportError,
	})

	if err := a.sessions.Register(sess); err != nil {
		a.reportError(sess, network.StageHandshake, err)
		_ = sess.Close()
		return
	}

	sess.OnConnected()
	a.handler.OnConnected(sess)

	frames := make(chan *network.Envelope, a.cfg.RecvQueueSize)
	var cause error
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		cause = a.readLoop(sess, conn, frames)
		close(frames)
	}()

	for env := range frames {
		a.handler.OnMessage(sess, env)
	}
	<-readDone

	_ = sess.Close()
	_ = a.sessions.Unregister(sess.ID())
	sess.OnDisconnected(cause)
	a.handler.OnClosed(sess, cause)
}

// readLoop 持续读取文本帧并解码为信封，将结果写入 frames 通道。
//
// 返回值：
//   - nil 表示正常结束（对端正常关闭或本端主动关闭）；
//   - 非 nil 表示读超时或其他异常断开。
func (a *WSAcceptor) readLoop(sess *session.WSSession, conn *websocket.Conn, frames chan<- *network.Envelope) error {
	conn.SetReadLimit(a.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
	})

	ctx := sess.Context()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			a.reportError(sess, network.StageRecvRaw, errors.Wrap(network.ErrRecvFailed, err.Error()))
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))

		env, err := network.DecodeEnvelope(frame)
		if err != nil {
			// 单帧格式错误不影响连接，由业务层决定是否回发 error 事件。
			a.reportError(sess, network.StageDecode, err)
			continue
		}

		select {
		case frames <- env:
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *WSAcceptor) reportError(sess session.Session, stage network.Stage, err error) {
	metrics.NetworkErrors.WithLabelValues(string(stage)).Inc()
	a.handler.OnError(sess, stage, err)
}
