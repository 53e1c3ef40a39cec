//go:build unix

package udp

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// control 设置 SO_REUSEADDR、SO_REUSEPORT 与 SO_BROADCAST
//
// 多个客户端上下文需要共享同一个端口接收广播时依赖端口复用。
func (o socketOptions) control(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if o.reuseAddr {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
				return
			}
		}
		if o.reusePort {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
				logger.Warn("设置 SO_REUSEPORT 失败", "err", err)
			}
		}
		if o.broadcast {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
				opErr = fmt.Errorf("set SO_BROADCAST: %w", err)
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
