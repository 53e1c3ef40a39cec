package chanaccess

import "errors"

// ════════════════════════════════════════════════════════════════════════════
//                              错误定义
// ════════════════════════════════════════════════════════════════════════════

var (
	// ErrClosed 实例已关闭
	ErrClosed = errors.New("chanaccess: closed")

	// ErrNoHooks 服务端未提供钩子
	ErrNoHooks = errors.New("chanaccess: server hooks required")

	// ErrUnknownPreset 未知预设名称
	ErrUnknownPreset = errors.New("chanaccess: unknown preset")
)
