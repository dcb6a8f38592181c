package session

// SessionManager 维护当前所有在线会话的索引。
//
// 职责说明：
//   - 只负责会话的注册、查询和移除，不直接创建或关闭底层连接；
//   - Session 的具体生命周期由 acceptor 决定；
//   - 广播（toAll）基于 Range 的快照实现。
type SessionManager interface {
	// Register 注册一个已创建好的 Session，ID 重复时返回错误。
	Register(sess Session) error

	// Get 根据 session id 查找会话。
	Get(id uint64) (sess Session, ok bool)

	// Unregister 移除指定 id 的会话，仅删除索引，不负责关闭会话。
	Unregister(id uint64) error

	// Range 遍历当前会话的快照，fn 返回 false 时中断遍历。
	//
	// 快照在遍历开始前复制完成：遍历期间新注册的会话不会被访问，
	// 遍历期间注销的会话如果已在快照中仍会被访问。
	Range(fn func(sess Session) bool)

	// Count 返回当前已注册的会话数量。
	Count() int
}
