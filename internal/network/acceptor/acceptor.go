package acceptor

import (
	"net/http"
	"time"

	"github.com/blang/semver/v4"
	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/privchat-go/internal/network"
	"github.com/lk2023060901/privchat-go/internal/network/serializer"
	"github.com/lk2023060901/privchat-go/internal/network/session"
)

// Config 描述 Acceptor 在会话层面的配置。
//
// 说明：
//   - SendQueueSize/RecvQueueSize 控制每个连接的发送/接收缓冲队列大小；
//   - ReadTimeout 为等待下一帧（含 pong）的最长时间，WriteTimeout 为单帧写出超时；
//   - PingInterval 应小于 ReadTimeout，否则空闲连接会被误判为超时；
//   - AllowedOrigins 为空时不校验 Origin，不带 Origin 的非浏览器客户端始终放行。
type Config struct {
	Path string

	SendQueueSize int
	RecvQueueSize int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64

	AllowedOrigins []string

	// ProtocolRange 为客户端可选携带的 ?v= 版本号需满足的范围，
	// 例如 ">=1.0.0 <2.0.0"；为空时不校验。
	ProtocolRange string

	// Upgrader 允许调用方自定义 gorilla/websocket 的升级行为。
	// 若为 nil，则使用内部默认的 Upgrader。
	Upgrader *websocket.Upgrader

	// Serializer 为下行负载使用的序列化器，为 nil 时使用 JSON。
	Serializer serializer.Serializer
}

// DefaultConfig 返回接入层的默认配置。
func DefaultConfig() Config {
	return Config{
		Path:           "/ws",
		SendQueueSize:  256,
		RecvQueueSize:  64,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 64 * 1024,
		ProtocolRange:  ">=1.0.0 <2.0.0",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.RecvQueueSize <= 0 {
		c.RecvQueueSize = def.RecvQueueSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return c
}

// AcceptorHandler 由框架使用者实现，用于在服务器侧的各个阶段插入自定义逻辑。
//
// 所有回调均在单个会话的处理协程中被调用，同一会话上的 OnMessage 严格串行。
type AcceptorHandler interface {
	// OnConnected 在握手成功并注册好会话后被调用。
	OnConnected(sess session.Session)

	// OnMessage 在成功解码出一个信封后被调用。
	OnMessage(sess session.Session, env *network.Envelope)

	// OnClosed 在会话生命周期结束时被调用，此时会话已关闭并完成注销。
	//
	// 参数 err 为关闭原因，正常关闭时为 nil。
	OnClosed(sess session.Session, err error)

	// OnError 在会话处理的各个阶段发生错误时被调用，sess 在握手阶段可能为 nil。
	OnError(sess session.Session, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的 WebSocket 接入层。
//
// 职责：
//   - 作为 http.Handler 处理 WebSocket 升级，由上层路由挂载到 Path；
//   - 为每个连接创建 Session，并调用 AcceptorHandler 的各阶段回调；
//   - 维护当前活跃会话列表，便于运维与监控。
type Acceptor interface {
	http.Handler

	// Close 主动关闭所有会话，并等待全部连接协程退出。
	Close() error

	// Sessions 返回当前活跃会话的快照。
	Sessions() []session.Session
}

func parseRange(expr string) (semver.Range, error) {
	if expr == "" {
		return nil, nil
	}
	return semver.ParseRange(expr)
}
