package registry

import "errors"

var (
	// ErrIDsExhausted 没有可用 ID
	ErrIDsExhausted = errors.New("registry: id space exhausted")
	// ErrClosed 注册表已关闭
	ErrClosed = errors.New("registry: closed")
)
