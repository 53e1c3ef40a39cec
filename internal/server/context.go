package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dep2p/go-chanaccess/internal/core/beacon"
	"github.com/dep2p/go-chanaccess/internal/core/bufpool"
	"github.com/dep2p/go-chanaccess/internal/core/circuit"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/internal/core/reactor"
	"github.com/dep2p/go-chanaccess/internal/core/registry"
	"github.com/dep2p/go-chanaccess/internal/core/udp"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

var logger = log.Logger("server")

// Deps 服务端依赖
type Deps struct {
	// ID 实例 ID；为空时生成
	ID string
	// Clock 时钟
	Clock clock.Clock
	// Metrics 指标（可为 nil）
	Metrics *metrics.Collector
}

// Context 服务端上下文
type Context struct {
	id      string
	cfg     Config
	hooks   interfaces.Server
	clock   clock.Clock
	metrics *metrics.Collector

	pool    *bufpool.Pool
	workers *reactor.Pool

	listener   net.Listener
	udp        *udp.Transport
	port       int
	serverAddr uint32
	ignore     []*net.UDPAddr

	beaconTargets []*net.UDPAddr
	emitter       *beacon.Emitter

	mu       sync.Mutex
	sessions map[*session]struct{}

	startOnce   sync.Once
	destroyOnce sync.Once
	destroyed   atomic.Bool
	acceptDone  chan struct{}
	destroyErr  error
}

// New 创建服务端上下文并绑定端口，调用 Start 后开始服务
func New(cfg Config, hooks interfaces.Server, deps Deps) (_ *Context, err error) {
	if hooks == nil {
		return nil, ErrNoHooks
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.ID == "" {
		deps.ID = uuid.NewString()
	}

	s := &Context{
		id:         deps.ID,
		cfg:        cfg,
		hooks:      hooks,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		pool:       bufpool.New(cfg.SendBufferSize),
		sessions:   make(map[*session]struct{}),
		acceptDone: make(chan struct{}),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.closeResources())
		}
	}()

	if s.workers, err = reactor.NewPool(cfg.Workers, 0); err != nil {
		return nil, err
	}
	if s.ignore, err = udp.ParseAddrList(cfg.IgnoreAddrList, 0); err != nil {
		return nil, err
	}

	// 先绑定 TCP，随机端口时 UDP 跟随 TCP 端口
	addr := net.JoinHostPort(cfg.InterfaceAddr, strconv.Itoa(cfg.Port))
	if s.listener, err = net.Listen("tcp4", addr); err != nil {
		return nil, err
	}
	s.port = s.listener.Addr().(*net.TCPAddr).Port

	opts := udp.DefaultOptions()
	opts.MaxSend = protocol.MaxUDPSend
	uaddr := net.JoinHostPort(cfg.InterfaceAddr, strconv.Itoa(s.port))
	if s.udp, err = udp.Listen(context.Background(), uaddr, opts, s.handleDatagram); err != nil {
		return nil, err
	}

	s.serverAddr = protocol.UnknownServerAddress
	if ip := net.ParseIP(cfg.InterfaceAddr); !ip.IsUnspecified() {
		s.serverAddr = udp.IPv4ToUint32(ip)
	}

	targets, err := udp.TargetList(cfg.BeaconAddrList, cfg.AutoBeaconAddrList, cfg.RepeaterPort)
	if err != nil {
		return nil, err
	}
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.RepeaterPort}
	s.beaconTargets = udp.Merge(targets, []*net.UDPAddr{local})

	beaconAddr := uint32(0)
	if s.serverAddr != protocol.UnknownServerAddress {
		beaconAddr = s.serverAddr
	}
	if s.emitter, err = beacon.NewEmitter(beacon.EmitterConfig{
		Period: cfg.BeaconPeriod,
		Port:   uint16(s.port),
		Addr:   beaconAddr,
		Minor:  protocol.MinorRevision,
	}, s.clock, s.sendBeacon); err != nil {
		return nil, err
	}

	logger.Info("服务端上下文已创建", "id", s.id, "addr", s.listener.Addr().String(),
		"beaconTargets", len(s.beaconTargets))
	return s, nil
}

// Start 开始接入、搜索应答与信标
func (s *Context) Start() {
	s.startOnce.Do(func() {
		s.udp.Start()
		go s.acceptLoop()
		s.emitter.Start()
	})
}

// ID 实例 ID
func (s *Context) ID() string { return s.id }

// Port 服务端口
func (s *Context) Port() int { return s.port }

// Addr TCP 监听地址
func (s *Context) Addr() net.Addr { return s.listener.Addr() }

// Sessions 当前会话数
func (s *Context) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Channels 所有会话上的通道总数
func (s *Context) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sess := range s.sessions {
		n += sess.channelCount()
	}
	return n
}

func (s *Context) sendBeacon(b []byte) error {
	return s.udp.SendAll(b, s.beaconTargets)
}

// ============================================================================
//                              接入
// ============================================================================

func (s *Context) acceptLoop() {
	defer close(s.acceptDone)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.destroyed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("接受连接失败", "err", err)
			continue
		}
		s.accept(conn)
	}
}

func (s *Context) accept(conn net.Conn) {
	sess := newSession(s, conn.RemoteAddr())
	key := registry.CircuitKey{Addr: conn.RemoteAddr().String()}
	circ := circuit.New(conn, key, s.cfg.Circuit, circuit.Deps{
		Pool:     s.pool,
		Executor: s.workers,
		Clock:    s.clock,
		Metrics:  s.metrics,
		OnClose:  func(*circuit.Circuit) { s.removeSession(sess) },
	}, sess)
	sess.circ = circ
	circ.AddOwner(sess)

	s.mu.Lock()
	if s.destroyed.Load() {
		s.mu.Unlock()
		_ = circ.Close(true)
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	circ.Start()
	logger.Debug("客户端已连接", "remote", key.Addr)
}

func (s *Context) removeSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// ============================================================================
//                              销毁
// ============================================================================

// Destroy 停止服务并关闭所有会话，幂等
func (s *Context) Destroy() error {
	s.destroyOnce.Do(func() {
		s.destroyed.Store(true)
		var errs error
		errs = multierr.Append(errs, s.emitter.Close())
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
		// 未启动时接入协程不存在
		s.startOnce.Do(func() { close(s.acceptDone) })
		<-s.acceptDone

		s.mu.Lock()
		sessions := make([]*session, 0, len(s.sessions))
		for sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()
		for _, sess := range sessions {
			errs = multierr.Append(errs, sess.circ.Close(true))
		}

		errs = multierr.Append(errs, s.closeResources())
		s.destroyErr = errs
		logger.Info("服务端上下文已销毁", "id", s.id)
	})
	return s.destroyErr
}

func (s *Context) closeResources() error {
	var errs error
	if s.emitter != nil {
		errs = multierr.Append(errs, s.emitter.Close())
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	if s.udp != nil {
		errs = multierr.Append(errs, s.udp.Close())
	}
	if s.workers != nil {
		errs = multierr.Append(errs, s.workers.Close())
	}
	return errs
}

// Printf 输出服务端状态
func (s *Context) Printf(w io.Writer) {
	fmt.Fprintf(w, "server %s addr=%s destroyed=%t\n", s.id, s.listener.Addr(), s.destroyed.Load())
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].remote.String() < sessions[j].remote.String() })
	fmt.Fprintf(w, "sessions: %d\n", len(sessions))
	for _, sess := range sessions {
		info := sess.info()
		fmt.Fprintf(w, "  %s user=%s host=%s priority=%d minor=%d channels=%d\n",
			sess.remote, info.User, info.Host, info.Priority, info.Minor, sess.channelCount())
	}
}
