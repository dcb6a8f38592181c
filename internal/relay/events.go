package relay

import (
	"bytes"
	"strings"

	"github.com/lk2023060901/privchat-go/internal/json"
)

// 上行事件名。
const (
	EventJoin           = "join"
	EventPrivateMessage = "privateMessage"
	EventMarkAsSeen     = "markAsSeen"
)

// 下行事件名。
const (
	EventUpdateUserStatus = "updateUserStatus"
	EventMessagesSeen     = "messagesSeen"
	EventError            = "error"
)

// JoinRequest 是 join 事件的负载。
//
// 兼容两种写法：直接的字符串 "alice"，或对象 {"username":"alice"}。
type JoinRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

func (r *JoinRequest) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		r.Username = strings.TrimSpace(name)
		return nil
	}
	var obj struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.Username = strings.TrimSpace(obj.Username)
	return nil
}

// PrivateMessageRequest 是 privateMessage 事件的负载。
type PrivateMessageRequest struct {
	From string `json:"from" validate:"required,max=64"`
	To   string `json:"to" validate:"required,max=64"`
	Text string `json:"text" validate:"required,max=4096"`
}

// MarkAsSeenRequest 是 markAsSeen 事件的负载。
type MarkAsSeenRequest struct {
	From string `json:"from" validate:"required,max=64"`
	To   string `json:"to" validate:"required,max=64"`
}

// SeenPayload 是 messagesSeen 事件的负载，只携带会话对，不携带消息 ID。
type SeenPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ErrorPayload 是回送给发起会话的 error 事件负载。
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    int32  `json:"code"`
	Message string `json:"message"`
}
