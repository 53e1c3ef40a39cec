package beacon

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("beacon: invalid config")
	// ErrClosed 已关闭
	ErrClosed = errors.New("beacon: closed")
)
