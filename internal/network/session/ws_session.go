package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/lk2023060901/privchat-go/internal/json"
	network "github.com/lk2023060901/privchat-go/internal/network"
	"github.com/lk2023060901/privchat-go/internal/network/serializer"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 10 * time.Second
	defaultPingInterval  = 54 * time.Second
)

// WSOptions 描述 WSSession 的发送侧参数。
type WSOptions struct {
	// SendQueueSize 为会话级发送队列容量。
	SendQueueSize int
	// WriteTimeout 为单帧写出的超时时间。
	WriteTimeout time.Duration
	// PingInterval 为服务器主动 ping 的间隔，<= 0 表示不发送 ping。
	PingInterval time.Duration
	// Serializer 用于编码事件负载，为 nil 时使用 JSONSerializer。
	Serializer serializer.Serializer
	// OnError 在发送协程遇到编码/写出错误时被调用，可为 nil。
	OnError func(sess Session, stage network.Stage, err error)
}

func (o *WSOptions) withDefaults() {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Serializer == nil {
		o.Serializer = serializer.JSONSerializer{}
	}
}

// WSSession 是基于 gorilla/websocket 的 Session 实现。
//
// 设计目标：
//   - Send 只做非阻塞入队，由独立的发送协程串行写出，避免并发写 conn；
//   - 队列满时立即返回错误，慢连接不会拖住广播方；
//   - 发送协程负责定期 ping，读侧的 pong 超时由 acceptor 处理。
type WSSession struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn *websocket.Conn
	opts WSOptions

	remoteAddr net.Addr
	localAddr  net.Addr

	// sendQueue 为待发送事件的对象级队列，永不关闭，发送协程通过 ctx 退出。
	sendQueue chan outboundMessage
	loopDone  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// 确保 WSSession 实现了 Session 接口。
var _ Session = (*WSSession)(nil)

// outboundMessage 表示一条待发送的下行事件。
type outboundMessage struct {
	event   string
	payload any
}

// NewWSSession 基于已完成升级的 WebSocket 连接创建会话，并启动发送协程。
//
// 参数：
//   - parent：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - id    ：会话 ID，一般由 NextID 分配；
//   - conn  ：已升级的 WebSocket 连接。
func NewWSSession(parent context.Context, id uint64, conn *websocket.Conn, opts WSOptions) *WSSession {
	if parent == nil {
		parent = context.Background()
	}
	opts.withDefaults()
	ctx, cancel := context.WithCancel(parent)

	s := &WSSession{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		opts:       opts,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendQueue:  make(chan outboundMessage, opts.SendQueueSize),
		loopDone:   make(chan struct{}),
	}
	go s.sendLoop()
	return s
}

func (s *WSSession) ID() uint64 {
	return s.id
}

func (s *WSSession) Context() context.Context {
	return s.ctx
}

func (s *WSSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

func (s *WSSession) LocalAddr() net.Addr {
	return s.localAddr
}

// Send 实现 Session.Send。
func (s *WSSession) Send(event string, payload any) error {
	if s.closed.Load() || s.ctx.Err() != nil {
		return merr.WrapErrSessionClosed(s.id)
	}
	select {
	case s.sendQueue <- outboundMessage{event: event, payload: payload}:
		return nil
	default:
		return merr.WrapErrSessionQueueFull(s.id, event)
	}
}

// Close 实现 Session.Close。
//
// 先取消上下文让发送协程退出（退出前尽力发送 close 帧），再关闭底层连接，
// 阻塞在 ReadMessage 上的读协程随之返回。
func (s *WSSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		<-s.loopDone
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}

// OnConnected 默认实现为空。
func (s *WSSession) OnConnected() {}

// OnDisconnected 默认实现为空。
func (s *WSSession) OnDisconnected(error) {}

// Pending 返回发送队列中尚未写出的事件数。
func (s *WSSession) Pending() int {
	return len(s.sendQueue)
}

// sendLoop 为每个会话启动的专职发送协程。
//
// 行为：
//   - 按入队顺序编码并写出事件，单条编码失败只丢弃该条；
//   - 写出失败视为连接损坏，直接关闭底层连接以唤醒读协程；
//   - 按 PingInterval 发送 ping。
func (s *WSSession) sendLoop() {
	defer close(s.loopDone)

	var tick <-chan time.Time
	if s.opts.PingInterval > 0 {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return

		case <-tick:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.fail(network.StageSend, err)
				return
			}

		case msg := <-s.sendQueue:
			frame, err := s.encode(msg)
			if err != nil {
				s.reportError(network.StageEncode, err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.fail(network.StageSend, err)
				return
			}
		}
	}
}

func (s *WSSession) encode(msg outboundMessage) ([]byte, error) {
	data, err := s.opts.Serializer.Marshal(msg.payload)
	if err != nil {
		return nil, errors.Wrapf(network.ErrEncodeFailed, "event=%s: %v", msg.event, err)
	}
	return network.EncodeEnvelope(msg.event, json.RawMessage(data))
}

func (s *WSSession) fail(stage network.Stage, err error) {
	s.reportError(stage, errors.Wrap(network.ErrSendFailed, err.Error()))
	s.closed.Store(true)
	s.cancel()
	_ = s.conn.Close()
}

func (s *WSSession) reportError(stage network.Stage, err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(s, stage, err)
	}
}
