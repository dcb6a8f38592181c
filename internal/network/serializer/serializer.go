package serializer

// Serializer 抽象了网络层“对象 <-> 字节流”的序列化能力。
//
// 说明：
//   - 目前只有 JSON 实现，WebSocket 文本帧承载 JSON 信封；
//   - 调用方通过接口注入具体实现，测试中可以替换为会出错的实现。
type Serializer interface {
	// Marshal 将任意对象编码为字节序列。
	Marshal(v any) ([]byte, error)

	// Unmarshal 将字节序列解码到目标对象，v 通常为指针。
	Unmarshal(data []byte, v any) error
}
