package circuit

import (
	"errors"
	"net"

	"go.uber.org/multierr"
)

// Close 关闭电路，幂等
//
// forced 为 true 时跳过最终刷新。
func (c *Circuit) Close(forced bool) error {
	return c.close(forced, false)
}

func (c *Circuit) close(forced, fromReader bool) (err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	started := c.started.Load()

	defer close(c.closeDone)
	defer func() {
		c.releaseBuffers()
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
		if started && !fromReader {
			<-c.readerDone
		}
		if started {
			c.deps.Metrics.CircuitClosed()
		}
		logger.Debug("虚拟电路已关闭", "remote", c.RemoteAddr(), "forced", forced, "err", err)
	}()

	c.wd.stop()

	if c.deps.OnClose != nil {
		c.deps.OnClose(c)
	}

	for _, o := range c.takeOwners() {
		o.TransportClosed(c)
	}

	if !forced {
		err = multierr.Append(err, c.finalFlush())
	}
	return err
}

func (c *Circuit) takeOwners() []Owner {
	c.ownersMu.Lock()
	defer c.ownersMu.Unlock()
	out := make([]Owner, 0, len(c.owners))
	for o := range c.owners {
		out = append(out, o)
	}
	c.owners = make(map[Owner]struct{})
	return out
}

// finalFlush 尽力写出剩余数据
func (c *Circuit) finalFlush() error {
	c.sendMu.Lock()
	c.enqueueActiveLocked()
	queue := c.queue
	c.queue = nil
	c.sendMu.Unlock()

	var errs error
	for i, buf := range queue {
		if errs == nil {
			errs = c.writeBuffer(buf)
		}
		buf.Release()
		queue[i] = nil
	}
	return errs
}

// releaseBuffers 归还所有缓冲区
func (c *Circuit) releaseBuffers() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.active != nil {
		c.active.Release()
		c.active = nil
	}
	for _, buf := range c.queue {
		buf.Release()
	}
	c.queue = nil
}
