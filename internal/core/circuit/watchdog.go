package circuit

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// watchdog 回显看门狗
//
// 空闲超时后发送回显探测；探测超时后标记电路无响应并通知所有者。
// 任何收到的帧都会让电路恢复响应。
type watchdog struct {
	c *Circuit

	mu           sync.Mutex
	timer        *clock.Timer
	echoPending  bool
	unresponsive bool
	stopped      bool
}

func (w *watchdog) init(c *Circuit) {
	w.c = c
}

func (w *watchdog) enabled() bool {
	return w.c.cfg.IdleTimeout > 0
}

func (w *watchdog) start() {
	if !w.enabled() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer = w.c.deps.Clock.AfterFunc(w.c.cfg.IdleTimeout, w.expired)
}

func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) resetLocked() {
	if w.timer == nil || w.stopped {
		return
	}
	if w.echoPending {
		w.timer.Reset(w.c.cfg.EchoTimeout)
	} else {
		w.timer.Reset(w.c.cfg.IdleTimeout)
	}
}

// expired 定时器到期
func (w *watchdog) expired() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if !w.echoPending {
		w.echoPending = true
		w.resetLocked()
		w.mu.Unlock()
		w.c.probe()
		return
	}

	// 回显超时
	notify := !w.unresponsive
	w.unresponsive = true
	w.echoPending = false
	w.resetLocked()
	w.mu.Unlock()

	if notify {
		logger.Info("电路无响应", "remote", w.c.RemoteAddr())
		for _, o := range w.c.ownerSnapshot() {
			o.TransportUnresponsive(w.c)
		}
	}
}

// activity 收到帧
func (w *watchdog) activity() {
	if !w.enabled() {
		return
	}
	w.mu.Lock()
	w.echoPending = false
	notify := w.unresponsive
	w.unresponsive = false
	w.resetLocked()
	stopped := w.stopped
	w.mu.Unlock()

	if notify && !stopped {
		logger.Info("电路恢复响应", "remote", w.c.RemoteAddr())
		for _, o := range w.c.ownerSnapshot() {
			o.TransportResponsive(w.c)
		}
	}
}

// beacon 收到该服务端的信标
func (w *watchdog) beacon() {
	if !w.enabled() {
		return
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if w.unresponsive {
		w.echoPending = true
		w.resetLocked()
		w.mu.Unlock()
		w.c.probe()
		return
	}
	if !w.echoPending {
		w.resetLocked()
	}
	w.mu.Unlock()
}

func (w *watchdog) isUnresponsive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unresponsive
}

// probe 发送存活探测，老版本对端使用 ReadSync
func (c *Circuit) probe() {
	var frame []byte
	if c.RemoteMinor() >= protocol.MinorEcho {
		frame = protocol.AppendEcho(nil)
	} else {
		frame = protocol.AppendReadSync(nil)
	}
	if err := c.SendAndFlush(frame); err != nil {
		logger.Debug("发送回显探测失败", "remote", c.RemoteAddr(), "err", err)
	}
}

// BeaconArrived 收到对端服务端的信标：重置看门狗，无响应时立即探测
func (c *Circuit) BeaconArrived() {
	c.wd.beacon()
}
