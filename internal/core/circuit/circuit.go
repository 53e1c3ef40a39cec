package circuit

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanaccess/internal/core/bufpool"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/internal/core/reactor"
	"github.com/dep2p/go-chanaccess/internal/core/registry"
	"github.com/dep2p/go-chanaccess/internal/core/wire"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

var logger = log.Logger("core/circuit")

// Handler 帧处理器
//
// HandleFrame 在电路读协程上按序调用。返回错误表示协议违例，电路将被关闭。
type Handler interface {
	HandleFrame(c *Circuit, f wire.Frame) error
}

// HandlerFunc 函数形式的 Handler
type HandlerFunc func(c *Circuit, f wire.Frame) error

// HandleFrame 调用 f
func (fn HandlerFunc) HandleFrame(c *Circuit, f wire.Frame) error { return fn(c, f) }

// Owner 电路所有者（客户端通道或服务端会话）
type Owner interface {
	// TransportClosed 电路已失效，所有者需要失败其请求
	TransportClosed(c *Circuit)
	// TransportUnresponsive 电路回显超时
	TransportUnresponsive(c *Circuit)
	// TransportResponsive 电路恢复响应
	TransportResponsive(c *Circuit)
}

// Deps 电路共享依赖
type Deps struct {
	// Pool 发送缓冲池
	Pool *bufpool.Pool
	// Executor 刷新执行器；nil 时同步刷新
	Executor reactor.Executor
	// Clock 时钟
	Clock clock.Clock
	// Metrics 指标（可为 nil）
	Metrics *metrics.Collector
	// OnClose 关闭时调用，用于从注册表移除
	OnClose func(c *Circuit)
}

// Circuit 虚拟电路
type Circuit struct {
	conn    net.Conn
	key     registry.CircuitKey
	cfg     Config
	deps    Deps
	handler Handler

	remoteMinor atomic.Uint32

	// 发送路径
	sendMu       sync.Mutex
	active       *bufpool.Buffer
	queue        []*bufpool.Buffer
	flushPending bool
	writeMu      sync.Mutex

	// 所有者
	ownersMu sync.Mutex
	owners   map[Owner]struct{}

	// 看门狗
	wd watchdog

	// 流控（仅读协程访问）
	reader    *wire.FrameReader
	lastReads uint64
	fullReads int
	eventsOff bool

	startOnce  sync.Once
	closed     atomic.Bool
	readerDone chan struct{}
	started    atomic.Bool
	closeErr   error
	closeDone  chan struct{}
}

// New 创建电路；调用 Start 后开始接收
func New(conn net.Conn, key registry.CircuitKey, cfg Config, deps Deps, handler Handler) *Circuit {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Pool == nil {
		deps.Pool = bufpool.New(defaultSendBufferSize)
	}
	if deps.Executor == nil {
		deps.Executor = reactor.Inline{}
	}
	c := &Circuit{
		conn:       conn,
		key:        key,
		cfg:        cfg,
		deps:       deps,
		handler:    handler,
		owners:     make(map[Owner]struct{}),
		readerDone: make(chan struct{}),
		closeDone:  make(chan struct{}),
	}
	c.remoteMinor.Store(uint32(cfg.InitialMinor))
	c.reader = wire.NewFrameReader(conn, cfg.RecvBufferSize, cfg.MaxArrayBytes)
	c.wd.init(c)
	return c
}

// Start 启动读协程与看门狗
func (c *Circuit) Start() {
	c.startOnce.Do(func() {
		if c.closed.Load() {
			return
		}
		c.started.Store(true)
		c.deps.Metrics.CircuitOpened()
		c.wd.start()
		go c.readLoop()
		logger.Debug("虚拟电路已启动", "remote", c.RemoteAddr(), "priority", c.key.Priority)
	})
}

// Key 电路标识
func (c *Circuit) Key() registry.CircuitKey { return c.key }

// Priority 电路优先级
func (c *Circuit) Priority() types.Priority { return c.key.Priority }

// RemoteAddr 对端地址
func (c *Circuit) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// LocalAddr 本端地址
func (c *Circuit) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteMinor 对端协议次版本
func (c *Circuit) RemoteMinor() uint16 { return uint16(c.remoteMinor.Load()) }

// SetRemoteMinor 记录版本交换得到的对端次版本
func (c *Circuit) SetRemoteMinor(minor uint16) { c.remoteMinor.Store(uint32(minor)) }

// Closed 电路是否已关闭
func (c *Circuit) Closed() bool { return c.closed.Load() }

// Unresponsive 电路是否处于无响应状态
func (c *Circuit) Unresponsive() bool { return c.wd.isUnresponsive() }

// Done 电路关闭完成后关闭的通道
func (c *Circuit) Done() <-chan struct{} { return c.closeDone }

// ============================================================================
//                              所有者
// ============================================================================

// AddOwner 添加所有者；电路已关闭时返回 false
func (c *Circuit) AddOwner(o Owner) bool {
	c.ownersMu.Lock()
	defer c.ownersMu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.owners[o] = struct{}{}
	return true
}

// RemoveOwner 移除所有者并返回剩余数量
func (c *Circuit) RemoveOwner(o Owner) int {
	c.ownersMu.Lock()
	defer c.ownersMu.Unlock()
	delete(c.owners, o)
	return len(c.owners)
}

// Release 移除所有者，最后一个所有者释放时优雅关闭电路
func (c *Circuit) Release(o Owner) {
	if c.RemoveOwner(o) == 0 {
		go func() {
			if err := c.Close(false); err != nil {
				logger.Debug("释放电路时关闭出错", "remote", c.RemoteAddr(), "err", err)
			}
		}()
	}
}

// Owners 当前所有者数量
func (c *Circuit) Owners() int {
	c.ownersMu.Lock()
	defer c.ownersMu.Unlock()
	return len(c.owners)
}

func (c *Circuit) ownerSnapshot() []Owner {
	c.ownersMu.Lock()
	defer c.ownersMu.Unlock()
	out := make([]Owner, 0, len(c.owners))
	for o := range c.owners {
		out = append(out, o)
	}
	return out
}

// CloseAsync 在新协程中关闭电路
//
// Handler 与所有者回调运行在读协程或关闭流程中，必须使用此方法关闭电路。
func (c *Circuit) CloseAsync(forced bool) {
	go func() {
		if err := c.Close(forced); err != nil {
			logger.Debug("异步关闭电路出错", "remote", c.RemoteAddr(), "err", err)
		}
	}()
}
