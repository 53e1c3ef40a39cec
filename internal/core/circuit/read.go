package circuit

import (
	"errors"
	"io"
	"net"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// readLoop 电路读协程
func (c *Circuit) readLoop() {
	defer close(c.readerDone)
	for {
		f, err := c.reader.Next()
		if err != nil {
			if !c.closed.Load() {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					logger.Debug("对端关闭电路", "remote", c.RemoteAddr())
				} else {
					logger.Warn("电路读失败", "remote", c.RemoteAddr(), "err", err)
				}
				c.close(true, true)
			}
			return
		}

		c.wd.activity()
		c.deps.Metrics.FrameReceived(f.Header.Command, f.Header.Size()+len(f.Payload))
		c.flowControl()

		if c.handler == nil {
			continue
		}
		if err := c.handler.HandleFrame(c, f); err != nil {
			if !c.closed.Load() {
				logger.Warn("协议违例，关闭电路", "remote", c.RemoteAddr(),
					"cmd", f.Header.Command.String(), "err", err)
				c.close(true, true)
			}
			return
		}
	}
}

// flowControl 每次底层读取后检查一次是否需要暂停或恢复订阅推送
func (c *Circuit) flowControl() {
	if !c.cfg.FlowControl {
		return
	}
	reads := c.reader.Reads()
	if reads == c.lastReads {
		return
	}
	c.lastReads = reads

	if c.reader.LastReadFull() {
		c.fullReads++
		if c.fullReads >= c.cfg.FlowControlThreshold && !c.eventsOff {
			c.eventsOff = true
			logger.Debug("接收积压，暂停订阅推送", "remote", c.RemoteAddr())
			_ = c.SendAndFlush(protocol.AppendEventsOff(nil))
		}
		return
	}
	c.fullReads = 0
	if c.eventsOff {
		c.eventsOff = false
		logger.Debug("接收恢复，继续订阅推送", "remote", c.RemoteAddr())
		_ = c.SendAndFlush(protocol.AppendEventsOn(nil))
	}
}

// EventsOff 是否已请求对端暂停推送
//
// 只能在读协程上调用（Handler 内部）。
func (c *Circuit) EventsOff() bool { return c.eventsOff }
