package wire

import (
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// ForEach 依次解析数据报中的帧
//
// fn 返回错误时停止遍历并返回该错误。帧的负载引用 b。
func ForEach(b []byte, fn func(Frame) error) error {
	for len(b) > 0 {
		h, n, err := protocol.DecodeHeader(b)
		if err != nil {
			return ErrTruncated
		}
		end := n + int(h.PayloadSize)
		if end > len(b) {
			return ErrTruncated
		}
		if err := fn(Frame{Header: h, Payload: b[n:end]}); err != nil {
			return err
		}
		b = b[end:]
	}
	return nil
}
