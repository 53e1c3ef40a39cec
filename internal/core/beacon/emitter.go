package beacon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// 信标起始间隔
const initialInterval = time.Millisecond

// EmitterConfig 发送器配置
type EmitterConfig struct {
	// Period 信标最大周期
	Period time.Duration
	// Port 服务端 TCP 端口
	Port uint16
	// Addr 服务端 IPv4 地址，0 表示由接收方使用数据报源地址
	Addr uint32
	// Minor 本端次版本
	Minor uint16
}

// Emitter 服务端信标发送器
type Emitter struct {
	cfg   EmitterConfig
	clock clock.Clock
	send  func(datagram []byte) error

	seq      atomic.Uint32
	interval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// NewEmitter 创建信标发送器
func NewEmitter(cfg EmitterConfig, clk clock.Clock, send func([]byte) error) (*Emitter, error) {
	if cfg.Period <= 0 || send == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Minor == 0 {
		cfg.Minor = protocol.MinorRevision
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Emitter{
		cfg:      cfg,
		clock:    clk,
		send:     send,
		interval: initialInterval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Beacon 立即发送一个信标，返回下一次发送前的间隔
func (e *Emitter) Beacon() time.Duration {
	seq := e.seq.Add(1) - 1
	b := protocol.AppendBeacon(nil, e.cfg.Minor, e.cfg.Port, seq, e.cfg.Addr)
	if err := e.send(b); err != nil {
		logger.Debug("发送信标失败", "seq", seq, "err", err)
	}

	next := e.interval
	if e.interval < e.cfg.Period {
		e.interval *= 2
		if e.interval > e.cfg.Period {
			e.interval = e.cfg.Period
		}
	}
	return next
}

// Sent 已发送的信标数量
func (e *Emitter) Sent() uint32 { return e.seq.Load() }

// Start 启动发送协程
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.loop()
	})
}

func (e *Emitter) loop() {
	defer close(e.done)
	for {
		wait := e.Beacon()
		timer := e.clock.Timer(wait)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Close 停止发送
func (e *Emitter) Close() error {
	e.cancel()
	e.startOnce.Do(func() {})
	if e.started.Load() {
		<-e.done
	}
	return nil
}
