package serializer

import (
	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/privchat-go/internal/json"
)

// ErrEmptyPayload 表示事件缺少 data 字段。
var ErrEmptyPayload = errors.New("serializer: empty payload")

// JSONSerializer 基于 internal/json（bytedance/sonic）编解码事件负载。
//
// 说明：
//   - 空负载在解码时直接报错，不会得到一个零值请求；
//   - 负载为 JSON null 时同样视为缺失。
type JSONSerializer struct{}

var _ Serializer = JSONSerializer{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return ErrEmptyPayload
	}
	return json.Unmarshal(data, v)
}
