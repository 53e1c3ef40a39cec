//go:build !unix

package udp

import "syscall"

// control 非 unix 平台不设置额外选项
func (o socketOptions) control(_, _ string, _ syscall.RawConn) error {
	return nil
}
