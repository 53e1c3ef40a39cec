package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

var logger = log.Logger("core/udp")

// Handler 数据报处理函数
//
// data 在处理函数返回后会被复用，需要保留时必须复制。
type Handler func(from *net.UDPAddr, data []byte)

// Options 套接字选项
type Options struct {
	// ReuseAddr 设置 SO_REUSEADDR
	ReuseAddr bool
	// ReusePort 设置 SO_REUSEPORT
	ReusePort bool
	// Broadcast 设置 SO_BROADCAST
	Broadcast bool
	// MaxSend 单个数据报发送上限（0 = 不限制）
	MaxSend int
}

// DefaultOptions 默认选项：允许广播与端口复用
func DefaultOptions() Options {
	return Options{
		ReuseAddr: true,
		ReusePort: true,
		Broadcast: true,
	}
}

type socketOptions struct {
	reuseAddr, reusePort, broadcast bool
}

// Transport UDP 传输
type Transport struct {
	conn    *net.UDPConn
	opts    Options
	handler Handler

	startOnce sync.Once
	started   atomic.Bool
	closed    atomic.Bool
	done      chan struct{}

	received atomic.Uint64
	sent     atomic.Uint64
}

// Listen 在 addr 上创建 UDP 传输
//
// handler 可以为 nil，此时传输只用于发送。
func Listen(ctx context.Context, addr string, opts Options, handler Handler) (*Transport, error) {
	so := socketOptions{reuseAddr: opts.ReuseAddr, reusePort: opts.ReusePort, broadcast: opts.Broadcast}
	lc := net.ListenConfig{Control: so.control}
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		conn:    pc.(*net.UDPConn),
		opts:    opts,
		handler: handler,
		done:    make(chan struct{}),
	}
	logger.Debug("UDP 传输已创建", "local", t.conn.LocalAddr().String())
	return t, nil
}

// LocalAddr 本地地址
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Start 启动接收循环；没有处理函数时不启动
func (t *Transport) Start() {
	if t.handler == nil {
		return
	}
	t.startOnce.Do(func() {
		if t.closed.Load() {
			return
		}
		t.started.Store(true)
		go t.receiveLoop()
	})
}

func (t *Transport) receiveLoop() {
	defer close(t.done)
	buf := make([]byte, protocol.MaxUDPRecv)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug("UDP 接收失败", "err", err)
			continue
		}
		t.received.Add(1)
		t.safeHandle(from, buf[:n])
	}
}

func (t *Transport) safeHandle(from *net.UDPAddr, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("数据报处理 panic", "from", from.String(), "panic", r)
		}
	}()
	t.handler(from, data)
}

// Send 发送数据报
func (t *Transport) Send(b []byte, to *net.UDPAddr) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.opts.MaxSend > 0 && len(b) > t.opts.MaxSend {
		return ErrDatagramTooLarge
	}
	if _, err := t.conn.WriteToUDP(b, to); err != nil {
		return err
	}
	t.sent.Add(1)
	return nil
}

// SendAll 向每个目标发送数据报，合并所有失败
func (t *Transport) SendAll(b []byte, targets []*net.UDPAddr) error {
	var errs error
	for _, to := range targets {
		errs = multierr.Append(errs, t.Send(b, to))
	}
	return errs
}

// Stats 收发计数
func (t *Transport) Stats() (received, sent uint64) {
	return t.received.Load(), t.sent.Load()
}

// Close 关闭传输并等待接收循环退出
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	t.startOnce.Do(func() {})
	if t.started.Load() {
		<-t.done
	}
	return err
}
