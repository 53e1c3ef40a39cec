package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dep2p/go-chanaccess/internal/core/beacon"
	"github.com/dep2p/go-chanaccess/internal/core/bufpool"
	"github.com/dep2p/go-chanaccess/internal/core/circuit"
	"github.com/dep2p/go-chanaccess/internal/core/dispatch"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/internal/core/reactor"
	"github.com/dep2p/go-chanaccess/internal/core/registry"
	"github.com/dep2p/go-chanaccess/internal/core/repeater"
	"github.com/dep2p/go-chanaccess/internal/core/search"
	"github.com/dep2p/go-chanaccess/internal/core/udp"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

var logger = log.Logger("client")

// ExceptionListener 上下文异常监听器
type ExceptionListener func(types.ExceptionEvent)

// Deps 上下文依赖
type Deps struct {
	// ID 上下文实例 ID；为空时生成
	ID string
	// Clock 时钟；nil 使用真实时钟
	Clock clock.Clock
	// Metrics 指标（可为 nil）
	Metrics *metrics.Collector
	// Dispatcher 回调分发器；nil 时按配置创建
	Dispatcher interfaces.Dispatcher
}

// Context 客户端上下文
//
// 上下文持有搜索用 UDP 套接字、搜索调度器、信标监视器、转发器注册器以及
// 到各服务端的虚拟电路。Destroy 之后所有操作返回 ErrContextDestroyed。
type Context struct {
	id      string
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Collector

	pool       *bufpool.Pool
	executor   reactor.Executor
	workers    *reactor.Pool
	dispatcher interfaces.Dispatcher

	udp       *udp.Transport
	targets   []*net.UDPAddr
	scheduler *search.Scheduler
	beacons   *beacon.Monitor
	registrar *repeater.Registrar

	circuits *registry.Circuits[*circuit.Circuit]
	channels *registry.Channels[*Channel]
	cids     *registry.Table[*Channel]
	requests *registry.Table[request]
	pend     *pendIO

	exMu       sync.Mutex
	exceptions []ExceptionListener

	startOnce   sync.Once
	destroyOnce sync.Once
	destroyed   atomic.Bool
	destroyErr  error
	warnedEmpty atomic.Bool
}

var (
	_ beacon.Listener = (*Context)(nil)
	_ circuit.Handler = (*Context)(nil)
)

// New 创建客户端上下文，调用 Start 后开始收发
func New(cfg Config, deps Deps) (_ *Context, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.ID == "" {
		deps.ID = uuid.NewString()
	}

	c := &Context{
		id:       deps.ID,
		cfg:      cfg,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		pool:     bufpool.New(cfg.SendBufferSize),
		circuits: registry.NewCircuits[*circuit.Circuit](),
		channels: registry.NewChannels[*Channel](),
		cids:     registry.NewTable[*Channel](),
		requests: registry.NewTable[request](),
		pend:     newPendIO(),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, c.closeResources())
		}
	}()

	if cfg.SingleThreaded {
		c.executor = reactor.Inline{}
	} else {
		if c.workers, err = reactor.NewPool(cfg.Workers, 0); err != nil {
			return nil, err
		}
		c.executor = c.workers
	}

	c.dispatcher = deps.Dispatcher
	if c.dispatcher == nil {
		if c.dispatcher, err = dispatch.New(cfg.Dispatch); err != nil {
			return nil, err
		}
	}

	if c.targets, err = udp.TargetList(cfg.AddrList, cfg.AutoAddrList, cfg.ServerPort); err != nil {
		return nil, err
	}

	opts := udp.DefaultOptions()
	opts.MaxSend = protocol.MaxUDPSend
	if c.udp, err = udp.Listen(context.Background(), "0.0.0.0:0", opts, c.handleDatagram); err != nil {
		return nil, err
	}
	if c.scheduler, err = search.New(cfg.Search, c.clock, c.sendSearch, c.metrics); err != nil {
		return nil, err
	}
	if c.beacons, err = beacon.NewMonitor(cfg.BeaconRecords, c.clock, c, c.metrics); err != nil {
		return nil, err
	}
	if cfg.RepeaterEnabled {
		rep := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.RepeaterPort}
		if c.registrar, err = repeater.NewRegistrar(c.udp, rep, 0, cfg.RegistrationPeriod, c.clock); err != nil {
			return nil, err
		}
	}

	logger.Info("客户端上下文已创建", "id", c.id, "local", c.udp.LocalAddr().String(),
		"targets", len(c.targets))
	return c, nil
}

// Start 启动接收、搜索与转发器注册
func (c *Context) Start() {
	c.startOnce.Do(func() {
		c.udp.Start()
		c.scheduler.Start()
		if c.registrar != nil {
			c.registrar.Start()
		}
	})
}

// ID 上下文实例 ID
func (c *Context) ID() string { return c.id }

// LocalAddr 搜索套接字本地地址
func (c *Context) LocalAddr() *net.UDPAddr { return c.udp.LocalAddr() }

// Scheduler 搜索调度器
func (c *Context) Scheduler() *search.Scheduler { return c.scheduler }

// Beacons 信标监视器
func (c *Context) Beacons() *beacon.Monitor { return c.beacons }

// Registrar 转发器注册器，未启用时为 nil
func (c *Context) Registrar() *repeater.Registrar { return c.registrar }

// ============================================================================
//                              通道
// ============================================================================

// CreateChannel 创建（或共享）通道并开始搜索
//
// 同名同优先级的通道返回同一实例，引用计数加一。
func (c *Context) CreateChannel(name string, priority types.Priority, listener ConnectionListener) (*Channel, error) {
	if c.destroyed.Load() {
		return nil, ErrContextDestroyed
	}
	if err := protocol.ValidateChannelName(name); err != nil {
		return nil, err
	}
	if err := protocol.ValidatePriority(priority); err != nil {
		return nil, err
	}

	key := registry.ChannelKey{Name: name, Priority: priority}
	ch, created, err := c.channels.Acquire(key, func() (*Channel, error) {
		var ch *Channel
		if _, err := c.cids.ReserveWith(func(cid uint32) *Channel {
			ch = newChannel(c, name, priority, cid)
			return ch
		}); err != nil {
			return nil, err
		}
		c.pend.add()
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	ch.AddConnectionListener(listener)
	if created {
		logger.Debug("通道已创建", "channel", name, "priority", priority, "cid", ch.cid)
		ch.initiateSearch()
	}
	return ch, nil
}

// Channel 查找已创建的通道
func (c *Context) Channel(name string, priority types.Priority) (*Channel, bool) {
	return c.channels.Get(registry.ChannelKey{Name: name, Priority: priority})
}

// Channels 当前通道
func (c *Context) Channels() []*Channel { return c.channels.All() }

// ============================================================================
//                              批量 IO
// ============================================================================

// PendIO 等待所有未完成的创建与 GetAsync 完成
//
// timeout <= 0 表示只受 ctx 约束；超时返回 TIMEOUT。
func (c *Context) PendIO(ctx context.Context, timeout time.Duration) error {
	if c.destroyed.Load() {
		return ErrContextDestroyed
	}
	c.Flush()
	return c.pend.wait(ctx, timeout, c.clock)
}

// TestIO 未完成的创建与 GetAsync 是否已全部完成
func (c *Context) TestIO() bool { return c.pend.count() == 0 }

// Flush 刷新所有电路的发送缓冲
func (c *Context) Flush() {
	for _, circ := range c.circuits.All() {
		circ.Flush()
	}
}

// Poll 刷新发送缓冲并返回尚未执行的回调数
func (c *Context) Poll() int {
	c.Flush()
	if q, ok := c.dispatcher.(interface{ Pending() int }); ok {
		return q.Pending()
	}
	return 0
}

// ============================================================================
//                              异常
// ============================================================================

// AddExceptionListener 添加异常监听器
func (c *Context) AddExceptionListener(l ExceptionListener) {
	if l == nil {
		return
	}
	c.exMu.Lock()
	c.exceptions = append(c.exceptions, l)
	c.exMu.Unlock()
}

func (c *Context) raise(ev types.ExceptionEvent) {
	c.exMu.Lock()
	ls := append([]ExceptionListener(nil), c.exceptions...)
	c.exMu.Unlock()
	if len(ls) == 0 {
		logger.Warn("未处理的异常", "channel", ev.Channel, "status", ev.Status, "msg", ev.Message)
		return
	}
	for _, l := range ls {
		l := l
		c.dispatcher.Dispatch(func() { l(ev) })
	}
}

// ============================================================================
//                              电路
// ============================================================================

// connect 为通道建立（或复用）到 addr 的电路，在独立协程上运行
func (c *Context) connect(ch *Channel, addr string, minor uint16) {
	if c.destroyed.Load() {
		return
	}
	circ, created, err := c.circuitFor(addr, ch.priority, minor)
	if err != nil {
		logger.Debug("连接服务端失败，继续搜索", "channel", ch.name, "remote", addr, "err", err)
		return
	}
	if !ch.circuitAssigned(circ) && created && circ.Owners() == 0 {
		circ.Release(nil)
	}
}

// circuitFor 返回到 addr 的电路，不存在时拨号并完成握手
func (c *Context) circuitFor(addr string, priority types.Priority, minor uint16) (*circuit.Circuit, bool, error) {
	key := registry.CircuitKey{Addr: addr, Priority: priority}
	return c.circuits.GetOrCreate(key, func() (*circuit.Circuit, error) {
		d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := d.Dial("tcp4", addr)
		if err != nil {
			return nil, err
		}
		ccfg := c.cfg.Circuit
		ccfg.Priority = priority
		ccfg.InitialMinor = minor
		circ := circuit.New(conn, key, ccfg, circuit.Deps{
			Pool:     c.pool,
			Executor: c.executor,
			Clock:    c.clock,
			Metrics:  c.metrics,
			OnClose:  c.circuitClosed,
		}, c)
		circ.Start()

		hs := protocol.AppendVersion(nil, priority, protocol.MinorRevision)
		hs = protocol.AppendClientName(hs, c.cfg.UserName)
		hs = protocol.AppendHostName(hs, c.cfg.HostName)
		if err := circ.SendAndFlush(hs); err != nil {
			_ = circ.Close(true)
			return nil, err
		}
		logger.Debug("虚拟电路已建立", "remote", addr, "priority", priority, "minor", minor)
		return circ, nil
	})
}

func (c *Context) circuitClosed(circ *circuit.Circuit) {
	c.circuits.Remove(circ.Key(), circ)
}

// Circuits 当前电路
func (c *Context) Circuits() []*circuit.Circuit { return c.circuits.All() }

// ============================================================================
//                              信标监听
// ============================================================================

// BeaconArrived 实现 beacon.Listener
func (c *Context) BeaconArrived(server string) {
	for _, circ := range c.circuits.All() {
		if circ.RemoteAddr() == server {
			circ.BeaconArrived()
		}
	}
}

// BeaconAnomaly 实现 beacon.Listener：重置搜索退避
func (c *Context) BeaconAnomaly(server string, networkChange bool) {
	if c.destroyed.Load() {
		return
	}
	logger.Debug("信标异常，加速搜索", "server", server, "networkChange", networkChange)
	c.scheduler.Sweep()
}

// ============================================================================
//                              销毁
// ============================================================================

// Destroy 销毁上下文，幂等
//
// 依次停止搜索与注册、强制关闭电路、销毁通道，最后释放套接字与工作池。
func (c *Context) Destroy() error {
	c.destroyOnce.Do(func() {
		c.destroyed.Store(true)
		var errs error
		errs = multierr.Append(errs, c.scheduler.Close())
		if c.registrar != nil {
			errs = multierr.Append(errs, c.registrar.Close())
		}
		for _, circ := range c.circuits.All() {
			errs = multierr.Append(errs, circ.Close(true))
		}
		for _, ch := range c.channels.All() {
			errs = multierr.Append(errs, ch.destroy())
		}
		c.pend.destroy()
		errs = multierr.Append(errs, c.closeResources())
		c.destroyErr = errs
		logger.Info("客户端上下文已销毁", "id", c.id)
	})
	return c.destroyErr
}

// Destroyed 是否已销毁
func (c *Context) Destroyed() bool { return c.destroyed.Load() }

func (c *Context) closeResources() error {
	var errs error
	if c.scheduler != nil {
		errs = multierr.Append(errs, c.scheduler.Close())
	}
	if c.udp != nil {
		errs = multierr.Append(errs, c.udp.Close())
	}
	if c.workers != nil {
		errs = multierr.Append(errs, c.workers.Close())
	}
	if c.dispatcher != nil {
		errs = multierr.Append(errs, c.dispatcher.Close())
	}
	return errs
}

// ============================================================================
//                              诊断
// ============================================================================

// Printf 输出上下文状态
func (c *Context) Printf(w io.Writer) {
	fmt.Fprintf(w, "context %s destroyed=%t local=%s\n", c.id, c.destroyed.Load(), c.udp.LocalAddr())
	fmt.Fprintf(w, "search: pending=%d lastSeq=%d\n", c.scheduler.Len(), c.scheduler.LastSent())

	circs := c.circuits.All()
	sort.Slice(circs, func(i, j int) bool { return circs[i].RemoteAddr() < circs[j].RemoteAddr() })
	fmt.Fprintf(w, "circuits: %d\n", len(circs))
	for _, circ := range circs {
		fmt.Fprintf(w, "  %s priority=%d minor=%d owners=%d unresponsive=%t\n",
			circ.RemoteAddr(), circ.Priority(), circ.RemoteMinor(), circ.Owners(), circ.Unresponsive())
	}

	chans := c.channels.All()
	sort.Slice(chans, func(i, j int) bool { return chans[i].name < chans[j].name })
	fmt.Fprintf(w, "channels: %d\n", len(chans))
	for _, ch := range chans {
		host := ch.HostName()
		if host == "" {
			host = "-"
		}
		fmt.Fprintf(w, "  %s cid=%d state=%s host=%s refs=%d monitors=%d\n",
			ch.name, ch.cid, ch.State(), host, ch.Refs(), ch.Monitors())
	}
}

// serverAddress 由搜索响应计算服务端地址
func (c *Context) serverAddress(from *net.UDPAddr, h protocol.Header) string {
	ip := from.IP
	if h.Parameter1 != protocol.UnknownServerAddress && h.Parameter1 != 0 {
		ip = udp.Uint32ToIPv4(h.Parameter1)
	}
	port := int(h.DataType)
	if port == 0 {
		port = c.cfg.ServerPort
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}
