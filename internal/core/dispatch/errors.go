package dispatch

import "errors"

var (
	// ErrClosed 分发器已关闭
	ErrClosed = errors.New("dispatch: closed")
	// ErrUnknownMode 未知分发方式
	ErrUnknownMode = errors.New("dispatch: unknown mode")
)
