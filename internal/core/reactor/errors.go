package reactor

import "errors"

var (
	// ErrPoolClosed 工作池已关闭
	ErrPoolClosed = errors.New("reactor: pool closed")
	// ErrInvalidWorkers 工作协程数无效
	ErrInvalidWorkers = errors.New("reactor: invalid worker count")
)
