package repeater

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("repeater: invalid config")
	// ErrNotLocal 注册请求不是来自本机
	ErrNotLocal = errors.New("repeater: client is not local")
)
