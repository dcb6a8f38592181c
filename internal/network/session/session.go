package session

import (
	"context"
	"net"

	"go.uber.org/atomic"
)

// Session 抽象了一条网络会话/连接。
//
// 约定：
//   - 每个 Session 对应一条底层 WebSocket 连接；
//   - Session ID 使用 64 位无符号整型，在进程内全局唯一（见 NextID）；
//   - 框架层只关心会话本身，不关心“用户名”等业务概念，用户名绑定由业务层维护。
type Session interface {
	// ID 返回该会话在进程内的唯一标识。
	ID() uint64

	// Context 返回与该会话关联的上下文。
	//
	// 说明：
	//   - 会话关闭时 Context.Done() 被触发；
	//   - 业务层可以在此基础上派生请求级上下文。
	Context() context.Context

	// RemoteAddr 返回远端地址，主要用于日志记录。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// Send 向该会话投递一条下行事件。
	//
	// 参数：
	//   - event  ：事件名，例如 "privateMessage"；
	//   - payload：事件负载，由会话持有的 Serializer 编码后写入信封的 data 字段。
	//
	// 行为：
	//   - 只负责入队，真正的写出由会话的发送协程完成，调用方永远不会被慢连接阻塞；
	//   - 队列已满返回 merr.ErrSessionQueueFull，会话已关闭返回 merr.ErrSessionClosed。
	Send(event string, payload any) error

	// Close 主动关闭该会话，多次调用是幂等的。
	Close() error

	// OnConnected 在会话建立并注册完成后被调用一次。
	OnConnected()

	// OnDisconnected 在会话断开时被调用，err 为断开原因，正常关闭时为 nil。
	OnDisconnected(err error)
}

var idSeq = atomic.NewUint64(0)

// NextID 分配一个新的会话 ID，从 1 开始单调递增。
func NextID() uint64 {
	return idSeq.Inc()
}
