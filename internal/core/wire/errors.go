package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrShortRead 帧尚未读完，需要再次调用
	ErrShortRead = errors.New("wire: short read")
	// ErrFrameTooLarge 负载超过允许的最大长度
	ErrFrameTooLarge = errors.New("wire: frame too large")
	// ErrTruncated 数据报中的帧被截断
	ErrTruncated = errors.New("wire: truncated frame")
)

// FrameError 帧解析错误
type FrameError struct {
	Op    string
	Size  uint32
	Limit int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("wire: %s: payload %d exceeds limit %d: %v", e.Op, e.Size, e.Limit, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
