package circuit

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dep2p/go-chanaccess/internal/core/bufpool"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// ============================================================================
//                              入队
// ============================================================================

// Send 将一个或多个完整帧追加到发送缓冲区
//
// 帧只入队不立即写出，调用 Flush 或缓冲区写满时才写出。
// 对端次版本不支持扩展消息头时返回 protocol.ErrPayloadTooLarge。
func (c *Circuit) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(frame) >= protocol.HeaderSize && protocol.IsExtendedPrefix(frame) &&
		c.RemoteMinor() < protocol.MinorExtendedHeader {
		return fmt.Errorf("%w: %w", protocol.ErrPayloadTooLarge, protocol.StatusTooLarge)
	}

	c.sendMu.Lock()
	if c.closed.Load() {
		c.sendMu.Unlock()
		return ErrClosed
	}
	if c.active == nil {
		c.active = c.deps.Pool.Get()
	}
	scheduled := false
	if !c.active.Append(frame) {
		c.enqueueActiveLocked()
		if len(frame) > c.deps.Pool.Capacity() {
			c.queue = append(c.queue, bufpool.Wrap(append([]byte(nil), frame...)))
		} else {
			if c.active == nil {
				c.active = c.deps.Pool.Get()
			}
			c.active.Append(frame)
		}
		scheduled = c.scheduleLocked()
	}
	c.sendMu.Unlock()

	c.deps.Metrics.FrameSent()
	if scheduled {
		c.runFlush()
	}
	return nil
}

// SendAndFlush 追加帧并立即刷新
func (c *Circuit) SendAndFlush(frame []byte) error {
	if err := c.Send(frame); err != nil {
		return err
	}
	c.Flush()
	return nil
}

// Flush 将活跃缓冲区推入队列并安排刷新
func (c *Circuit) Flush() {
	if c.closed.Load() {
		return
	}
	c.sendMu.Lock()
	c.enqueueActiveLocked()
	scheduled := c.scheduleLocked()
	c.sendMu.Unlock()
	if scheduled {
		c.runFlush()
	}
}

// enqueueActiveLocked 把活跃缓冲区推入队列，能放下时并入队尾缓冲区
func (c *Circuit) enqueueActiveLocked() {
	if c.active == nil {
		return
	}
	if c.active.Empty() {
		return
	}
	if n := len(c.queue); n > 0 {
		tail := c.queue[n-1]
		if tail.Merge(c.active) {
			c.active.Reset()
			return
		}
	}
	c.queue = append(c.queue, c.active)
	c.active = nil
}

// scheduleLocked 标记需要刷新；已有刷新任务在途时返回 false
func (c *Circuit) scheduleLocked() bool {
	if c.flushPending || len(c.queue) == 0 {
		return false
	}
	c.flushPending = true
	return true
}

// runFlush 把刷新任务交给执行器；执行器不可用时同步刷新
func (c *Circuit) runFlush() {
	if err := c.deps.Executor.Execute(c.flushTask); err != nil {
		c.flushTask()
	}
}

// ============================================================================
//                              写出
// ============================================================================

// flushTask 依次写出队列中的缓冲区
func (c *Circuit) flushTask() {
	for {
		c.sendMu.Lock()
		if len(c.queue) == 0 || c.closed.Load() {
			c.flushPending = false
			c.sendMu.Unlock()
			return
		}
		buf := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.sendMu.Unlock()

		err := c.writeBuffer(buf)
		buf.Release()
		if err != nil {
			c.sendMu.Lock()
			c.flushPending = false
			c.sendMu.Unlock()
			if !c.closed.Load() {
				logger.Warn("电路写失败，关闭电路", "remote", c.RemoteAddr(), "err", err)
				go c.Close(true)
			}
			return
		}
	}
}

// writeBuffer 写出缓冲区的未写部分
func (c *Circuit) writeBuffer(buf *bufpool.Buffer) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tries := 0
	for !buf.Empty() {
		part := buf.Unread()
		if len(part) > maxWritePart {
			part = part[:maxWritePart]
		}
		if c.cfg.WriteTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		}
		n, err := c.conn.Write(part)
		buf.Advance(n)
		c.deps.Metrics.BytesWritten(n)
		if err == nil && n == len(part) {
			tries = 0
			continue
		}
		if err != nil && !isTimeout(err) {
			return &CircuitError{Op: "write", Remote: c.RemoteAddr(), Err: err}
		}
		tries++
		if tries > c.cfg.FlushRetries {
			return &CircuitError{Op: "write", Remote: c.RemoteAddr(), Err: ErrFlushFailed}
		}
		c.deps.Clock.Sleep(retryDelay(tries))
	}
	return nil
}

// retryDelay 写重试退避：min(15s, 10ms + tries*100ms)
func retryDelay(tries int) time.Duration {
	d := 10*time.Millisecond + time.Duration(tries)*100*time.Millisecond
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Pending 队列中等待写出的缓冲区数量
func (c *Circuit) Pending() int {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return len(c.queue)
}
