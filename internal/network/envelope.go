package network

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/privchat-go/internal/json"
)

// Envelope 是 WebSocket 文本帧承载的统一信封：{"event": "...", "data": ...}。
//
// 上行时 Data 保持原始字节，由 Router 按事件类型反序列化；
// 下行时由会话发送协程把任意对象编码到 Data。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope 解析一帧上行数据。
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.Wrap(ErrDecodeFailed, err.Error())
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return nil, errors.Wrap(ErrDecodeFailed, "event is empty")
	}
	return &env, nil
}

// EncodeEnvelope 把事件名与负载编码为一帧下行数据。
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	out := struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: payload}
	frame, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(ErrEncodeFailed, err.Error())
	}
	return frame, nil
}
