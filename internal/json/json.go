// Package json 统一项目内的 JSON 编解码实现（bytedance/sonic）。
package json

import (
	stdjson "encoding/json"

	"github.com/bytedance/sonic"
)

// RawMessage 与标准库兼容，sonic 对其按原样编解码。
type RawMessage = stdjson.RawMessage

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Valid 判断 data 是否为合法 JSON。
func Valid(data []byte) bool {
	return api.Valid(data)
}
