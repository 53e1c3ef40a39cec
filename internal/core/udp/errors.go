package udp

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("udp: transport closed")
	// ErrInvalidAddress 地址无效
	ErrInvalidAddress = errors.New("udp: invalid address")
	// ErrDatagramTooLarge 数据报超过发送上限
	ErrDatagramTooLarge = errors.New("udp: datagram too large")
)

// AddrError 地址解析错误
type AddrError struct {
	Addr string
	Err  error
}

func (e *AddrError) Error() string {
	return fmt.Sprintf("udp: address %q: %v", e.Addr, e.Err)
}

func (e *AddrError) Unwrap() error {
	return e.Err
}
