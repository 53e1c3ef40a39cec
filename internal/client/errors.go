package client

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

var (
	// ErrContextDestroyed 上下文已销毁
	ErrContextDestroyed = errors.New("client: context destroyed")
	// ErrChannelClosed 通道已关闭
	ErrChannelClosed = fmt.Errorf("client: channel closed: %w", protocol.StatusBadChID)
	// ErrNotConnected 通道未连接
	ErrNotConnected = fmt.Errorf("client: channel not connected: %w", protocol.StatusDisconnChid)
	// ErrNoReadAccess 无读权限
	ErrNoReadAccess = fmt.Errorf("client: %w", protocol.StatusNoRdAccess)
	// ErrNoWriteAccess 无写权限
	ErrNoWriteAccess = fmt.Errorf("client: %w", protocol.StatusNoWtAccess)
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("client: invalid config")
	// ErrUnexpectedCommand 电路上出现客户端不认识的命令
	ErrUnexpectedCommand = errors.New("client: unexpected command")
)

// RequestError 请求失败
type RequestError struct {
	Op      string
	Channel string
	Err     error
}

// Error 实现 error
func (e *RequestError) Error() string {
	return fmt.Sprintf("client: %s %s: %v", e.Op, e.Channel, e.Err)
}

// Unwrap 返回底层错误
func (e *RequestError) Unwrap() error { return e.Err }
