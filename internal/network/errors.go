package network

import "github.com/cockroachdb/errors"

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageHandshake Stage = "handshake"
	StageRecvRaw   Stage = "recv_raw" // 读取 WebSocket 帧
	StageDecode    Stage = "decode"   // 帧 -> Envelope
	StageDispatch  Stage = "dispatch" // Envelope -> 业务处理
	StageEncode    Stage = "encode"   // 业务对象 -> 帧
	StageSend      Stage = "send"     // 写出到底层连接
)

// 统一的错误码常量，用于日志/监控的稳定字符串。
const (
	ErrCodeHandshakeFailed = "network:handshake_failed"
	ErrCodeOriginRejected  = "network:origin_rejected"
	ErrCodeRecvFailed      = "network:recv_failed"
	ErrCodeDecodeFailed    = "network:decode_failed"
	ErrCodeDispatchFailed  = "network:dispatch_failed"
	ErrCodeEncodeFailed    = "network:encode_failed"
	ErrCodeSendFailed      = "network:send_failed"
)

var (
	// ErrHandshakeFailed 表示握手阶段失败（WebSocket 升级失败或协议版本不兼容）。
	ErrHandshakeFailed = errors.New(ErrCodeHandshakeFailed)

	// ErrOriginRejected 表示请求的 Origin 不在允许列表中。
	ErrOriginRejected = errors.New(ErrCodeOriginRejected)

	// ErrRecvFailed 表示在读取底层连接数据时发生错误。
	ErrRecvFailed = errors.New(ErrCodeRecvFailed)

	// ErrDecodeFailed 表示帧内容无法解码为 Envelope。
	ErrDecodeFailed = errors.New(ErrCodeDecodeFailed)

	// ErrDispatchFailed 表示业务处理返回了错误。
	ErrDispatchFailed = errors.New(ErrCodeDispatchFailed)

	// ErrEncodeFailed 表示下行事件编码失败。
	ErrEncodeFailed = errors.New(ErrCodeEncodeFailed)

	// ErrSendFailed 表示写出数据到对端时发生错误。
	ErrSendFailed = errors.New(ErrCodeSendFailed)
)
