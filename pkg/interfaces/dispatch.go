package interfaces

// Dispatcher 监听器分发机制
//
// 核心层通过 Dispatcher 把连接状态、访问权限与订阅事件交给应用回调，
// 回调中的 panic 必须在分发边界被捕获，不能影响 I/O 协程。
type Dispatcher interface {
	// Dispatch 投递一个回调
	Dispatch(fn func())

	// Close 停止分发；队列实现会先处理完已入队回调
	Close() error
}
