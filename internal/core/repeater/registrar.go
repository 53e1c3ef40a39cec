package repeater

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// 未确认时的注册重试间隔
const unconfirmedRetry = time.Second

// Sender 发送数据报
type Sender interface {
	Send(b []byte, to *net.UDPAddr) error
}

// Registrar 客户端一侧的转发器注册
type Registrar struct {
	sender    Sender
	repeater  *net.UDPAddr
	localAddr uint32
	period    time.Duration
	clock     clock.Clock

	confirmed atomic.Bool
	attempts  atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
	wake      chan struct{}
}

// NewRegistrar 创建注册器
//
// localAddr 为本机 IPv4 地址（网络序整数），写入注册请求的 p2 字段。
func NewRegistrar(sender Sender, repeater *net.UDPAddr, localAddr uint32, period time.Duration, clk clock.Clock) (*Registrar, error) {
	if sender == nil || repeater == nil || period <= 0 {
		return nil, ErrInvalidConfig
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registrar{
		sender:    sender,
		repeater:  repeater,
		localAddr: localAddr,
		period:    period,
		clock:     clk,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Register 发送一次注册请求
func (r *Registrar) Register() error {
	r.attempts.Add(1)
	return r.sender.Send(protocol.AppendRepeaterRegister(nil, r.localAddr), r.repeater)
}

// Confirm 收到 RepeaterConfirm 时调用
func (r *Registrar) Confirm() {
	if !r.confirmed.Swap(true) {
		logger.Debug("转发器注册已确认", "repeater", r.repeater.String())
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// Confirmed 是否已确认
func (r *Registrar) Confirmed() bool { return r.confirmed.Load() }

// Attempts 已发送的注册请求数量
func (r *Registrar) Attempts() uint64 { return r.attempts.Load() }

// Start 启动注册协程
func (r *Registrar) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.loop()
	})
}

func (r *Registrar) loop() {
	defer close(r.done)
	for {
		if err := r.Register(); err != nil {
			logger.Debug("转发器注册失败", "repeater", r.repeater.String(), "err", err)
		}
		wait := r.period
		if !r.confirmed.Load() {
			wait = min(unconfirmedRetry, r.period)
		}
		timer := r.clock.Timer(wait)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-r.wake:
			// 确认后切换到注册周期
			timer.Stop()
			timer = r.clock.Timer(r.period)
			select {
			case <-r.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		case <-timer.C:
		}
	}
}

// Close 停止注册
func (r *Registrar) Close() error {
	r.cancel()
	r.startOnce.Do(func() {})
	if r.started.Load() {
		<-r.done
	}
	return nil
}
