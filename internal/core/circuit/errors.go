package circuit

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed 电路已关闭
	ErrClosed = errors.New("circuit: closed")
	// ErrFlushFailed 写重试次数用尽
	ErrFlushFailed = errors.New("circuit: flush retries exhausted")
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("circuit: invalid config")
)

// CircuitError 电路操作错误
type CircuitError struct {
	Op      string
	Remote  string
	Err     error
	Message string
}

func (e *CircuitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("circuit %s %s: %s: %v", e.Op, e.Remote, e.Message, e.Err)
	}
	return fmt.Sprintf("circuit %s %s: %v", e.Op, e.Remote, e.Err)
}

func (e *CircuitError) Unwrap() error {
	return e.Err
}
