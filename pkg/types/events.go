package types

// ============================================================================
//                              客户端事件
// ============================================================================

// ConnectionEvent 通道连接状态变化事件
//
// 每次外部可观察的连接性翻转只投递一次。
type ConnectionEvent struct {
	// Channel 通道名
	Channel string
	// Connected 当前是否已连接
	Connected bool
	// State 触发事件时的内部状态
	State ConnectionState
}

// AccessRightsEvent 访问权限变化事件
type AccessRightsEvent struct {
	Channel string
	Rights  AccessRights
}

// MonitorEvent 订阅更新事件
//
// Status 为 nil 表示成功；否则 Value 无效。
type MonitorEvent struct {
	Channel string
	Value   Value
	Status  error
}

// ExceptionEvent 上下文级异常事件（未能关联到具体请求的错误帧）
type ExceptionEvent struct {
	Channel string
	Status  error
	Message string
}
