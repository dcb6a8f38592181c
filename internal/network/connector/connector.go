package connector

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/lk2023060901/privchat-go/internal/json"
	network "github.com/lk2023060901/privchat-go/internal/network"
	"github.com/lk2023060901/privchat-go/internal/network/serializer"
	"github.com/lk2023060901/privchat-go/pkg/util/conc"
)

// ErrConnClosed 表示向已关闭的客户端连接发送数据。
var ErrConnClosed = errors.New("connector: connection closed")

// Config 描述客户端连接的基础配置。
type Config struct {
	SendQueueSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Header 为握手时附带的 HTTP 头，例如 Origin。
	Header http.Header

	// NewBackOff 为 Run 在断线后重连使用的退避策略，为 nil 时使用指数退避。
	NewBackOff func() backoff.BackOff

	// Serializer 为上行负载使用的序列化器，为 nil 时使用 JSON。
	Serializer serializer.Serializer
}

func defaultConfig() Config {
	return Config{
		SendQueueSize: 256,
		WriteTimeout:  10 * time.Second,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// ClientConn 抽象了客户端侧的一条连接。
//
// 注意：客户端连接不包含会话 ID 概念。
type ClientConn interface {
	Context() context.Context
	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// Send 投递一条上行事件，发送队列已满时阻塞直至入队或连接关闭。
	Send(event string, payload any) error

	// Done 在连接关闭后被关闭。
	Done() <-chan struct{}

	Close() error
}

// ConnectorHandler 描述客户端在各阶段的回调能力。
type ConnectorHandler interface {
	OnConnected(conn ClientConn)
	OnMessage(conn ClientConn, env *network.Envelope)
	OnClosed(conn ClientConn, err error)
	OnError(conn ClientConn, stage network.Stage, err error)
}

// Connector 抽象了客户端的拨号器。
type Connector interface {
	// Dial 建立一条连接，失败时直接返回错误。
	Dial(ctx context.Context, urlStr string, h ConnectorHandler) (ClientConn, error)

	// Run 保持与服务器的连接：连接断开后按退避策略重连，直至 ctx 取消。
	Run(ctx context.Context, urlStr string, h ConnectorHandler) error
}

// wsConnector 是基于 gorilla/websocket 的默认 Connector 实现。
type wsConnector struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewWSConnector 创建一个基于 WebSocket 的 Connector。
func NewWSConnector(cfg Config) Connector {
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaultBackOff
	}
	if cfg.Serializer == nil {
		cfg.Serializer = serializer.JSONSerializer{}
	}
	return &wsConnector{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (c *wsConnector) Dial(ctx context.Context, urlStr string, h ConnectorHandler) (ClientConn, error) {
	if h == nil {
		return nil, errors.New("connector: handler is nil")
	}
	conn, _, err := c.dialer.DialContext(ctx, urlStr, c.cfg.Header)
	if err != nil {
		h.OnError(nil, network.StageHandshake, err)
		return nil, errors.Wrap(network.ErrHandshakeFailed, err.Error())
	}

	connCtx, cancel := context.WithCancel(ctx)
	cc := newWSClientConn(connCtx, cancel, conn, c.cfg, h)
	h.OnConnected(cc)
	cc.start()
	return cc, nil
}

func (c *wsConnector) Run(ctx context.Context, urlStr string, h ConnectorHandler) error {
	for {
		var cc ClientConn
		op := func() error {
			conn, err := c.Dial(ctx, urlStr, h)
			if err != nil {
				return err
			}
			cc = conn
			return nil
		}
		if err := backoff.Retry(op, backoff.WithContext(c.cfg.NewBackOff(), ctx)); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			_ = cc.Close()
			<-cc.Done()
			return ctx.Err()
		case <-cc.Done():
		}
	}
}

// wsClientConn 是基于 WebSocket 的 ClientConn 默认实现。
type wsClientConn struct {
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	cfg Config
	h   ConnectorHandler

	remoteAddr net.Addr
	localAddr  net.Addr

	sendChan chan outboundMessage
	done     chan struct{}

	cause     atomic.Error
	closeOnce sync.Once
}

// outboundMessage 表示一条待发送的上行事件。
type outboundMessage struct {
	event   string
	payload any
}

func newWSClientConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	cfg Config,
	h ConnectorHandler,
) *wsClientConn {
	return &wsClientConn{
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		h:          h,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendChan:   make(chan outboundMessage, cfg.SendQueueSize),
		done:       make(chan struct{}),
	}
}

// start 使用 conc.Go 启动收发协程，并在两者都退出后完成关闭通知。
func (c *wsClientConn) start() {
	recv := conc.Go(func() (struct{}, error) {
		c.recvLoop()
		return struct{}{}, nil
	})
	send := conc.Go(func() (struct{}, error) {
		c.sendLoop()
		return struct{}{}, nil
	})
	_ = conc.Go(func() (struct{}, error) {
		_ = conc.AwaitAll(recv, send)
		_ = c.conn.Close()
		c.h.OnClosed(c, c.cause.Load())
		close(c.done)
		return struct{}{}, nil
	})
}

// ClientConn 接口实现。

func (c *wsClientConn) Context() context.Context { return c.ctx }
func (c *wsClientConn) RemoteAddr() net.Addr     { return c.remoteAddr }
func (c *wsClientConn) LocalAddr() net.Addr      { return c.localAddr }
func (c *wsClientConn) Done() <-chan struct{}    { return c.done }
func (c *wsClientConn) Close() error             { c.shutdown(nil); return nil }

func (c *wsClientConn) Send(event string, payload any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	case c.sendChan <- outboundMessage{event: event, payload: payload}:
		return nil
	}
}

// shutdown 记录首个关闭原因并唤醒收发协程。
func (c *wsClientConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		if cause != nil {
			c.cause.Store(cause)
		}
		c.cancel()
		// 立即过期读超时以唤醒阻塞在 ReadMessage 上的读协程。
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

// recvLoop 持续读取 WebSocket 文本帧并解码为信封。
func (c *wsClientConn) recvLoop() {
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.h.OnError(c, network.StageRecvRaw, err)
				c.shutdown(errors.Wrap(network.ErrRecvFailed, err.Error()))
				return
			}
			c.shutdown(nil)
			return
		}

		env, err := network.DecodeEnvelope(data)
		if err != nil {
			c.h.OnError(c, network.StageDecode, err)
			continue
		}
		c.h.OnMessage(c, env)
	}
}

// sendLoop 从 sendChan 读取事件，编码为信封后写入 WebSocket。
func (c *wsClientConn) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case msg := <-c.sendChan:
			data, err := c.cfg.Serializer.Marshal(msg.payload)
			if err != nil {
				c.h.OnError(c, network.StageEncode, err)
				continue
			}
			frame, err := network.EncodeEnvelope(msg.event, json.RawMessage(data))
			if err != nil {
				c.h.OnError(c, network.StageEncode, err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.h.OnError(c, network.StageSend, err)
				c.shutdown(errors.Wrap(network.ErrSendFailed, err.Error()))
				return
			}
		}
	}
}
