package repeater

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/internal/core/udp"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

var logger = log.Logger("core/repeater")

// Options 转发器选项
type Options struct {
	// Port 监听端口
	Port int
	// FanoutRate 每秒最多转发的数据报（0 = 不限制）
	FanoutRate float64
	// FanoutBurst 转发突发量
	FanoutBurst int
}

// DefaultOptions 默认选项
func DefaultOptions() Options {
	return Options{
		Port:        protocol.DefaultRepeaterPort,
		FanoutRate:  5000,
		FanoutBurst: 512,
	}
}

// Repeater 信标转发器
type Repeater struct {
	transport *udp.Transport
	limiter   *rate.Limiter
	metrics   *metrics.Collector

	mu      sync.Mutex
	clients map[string]*net.UDPAddr

	dropped uint64
}

// New 在 opts.Port 上创建转发器并开始接收
//
// 端口已被占用时返回错误，说明本机已有转发器在运行。
func New(ctx context.Context, opts Options, m *metrics.Collector) (*Repeater, error) {
	if opts.Port < 0 || opts.Port > 0xFFFF {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidConfig, opts.Port)
	}
	r := &Repeater{
		metrics: m,
		clients: make(map[string]*net.UDPAddr),
	}
	if opts.FanoutRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.FanoutRate), max(opts.FanoutBurst, 1))
	}

	// 不设置端口复用，第二个转发器会绑定失败
	t, err := udp.Listen(ctx, net.JoinHostPort("", strconv.Itoa(opts.Port)), udp.Options{MaxSend: protocol.MaxUDPRecv}, r.handle)
	if err != nil {
		return nil, err
	}
	r.transport = t
	t.Start()
	logger.Info("转发器已启动", "addr", t.LocalAddr().String())
	return r, nil
}

// LocalAddr 监听地址
func (r *Repeater) LocalAddr() *net.UDPAddr { return r.transport.LocalAddr() }

// Close 关闭转发器
func (r *Repeater) Close() error {
	return r.transport.Close()
}

// Clients 已注册客户端
func (r *Repeater) Clients() []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*net.UDPAddr, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// ============================================================================
//                              接收
// ============================================================================

func (r *Repeater) handle(from *net.UDPAddr, data []byte) {
	if len(data) == 0 {
		r.register(from)
		return
	}
	if len(data) >= protocol.HeaderSize {
		h, n, err := protocol.DecodeHeader(data)
		if err == nil {
			switch h.Command {
			case protocol.CmdRepeaterRegister:
				r.register(from)
				data = data[n:]
				if len(data) == 0 {
					return
				}
			case protocol.CmdBeacon:
				r.metrics.BeaconReceived()
				if h.Parameter2 == 0 {
					h.Parameter2 = udp.IPv4ToUint32(from.IP)
					data = append(h.Append(nil), data[n:]...)
				}
			}
		}
	}
	r.fanOut(from, data)
}

// register 注册本机客户端并回复确认
func (r *Repeater) register(from *net.UDPAddr) {
	if !udp.IsLocal(from.IP) {
		logger.Debug("拒绝非本机客户端", "from", from.String(), "err", ErrNotLocal)
		return
	}
	key := from.String()
	r.mu.Lock()
	_, existing := r.clients[key]
	r.clients[key] = from
	r.mu.Unlock()

	confirm := protocol.AppendRepeaterConfirm(nil, udp.IPv4ToUint32(from.IP))
	if err := r.transport.Send(confirm, from); err != nil {
		logger.Debug("发送注册确认失败", "client", key, "err", err)
		r.remove(key)
		return
	}
	if existing {
		return
	}
	logger.Debug("客户端已注册", "client", key)

	// 通知其他客户端有新成员
	r.fanOut(from, protocol.AppendFrame(nil, protocol.Header{Command: protocol.CmdVersion}, nil))
	r.verifyClients()
}

// fanOut 把数据报转发给除来源外的所有客户端
func (r *Repeater) fanOut(from *net.UDPAddr, data []byte) {
	if r.limiter != nil && !r.limiter.Allow() {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return
	}
	src := from.String()
	for _, c := range r.Clients() {
		key := c.String()
		if key == src {
			continue
		}
		if err := r.transport.Send(data, c); err != nil && !alive(c) {
			logger.Debug("移除失效客户端", "client", key, "err", err)
			r.remove(key)
		}
	}
}

// verifyClients 移除已退出的客户端
func (r *Repeater) verifyClients() {
	for _, c := range r.Clients() {
		if !alive(c) {
			logger.Debug("移除失效客户端", "client", c.String())
			r.remove(c.String())
		}
	}
}

// alive 客户端端口仍被占用则认为存活
func alive(c *net.UDPAddr) bool {
	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: c.IP, Port: c.Port})
	if err != nil {
		return true
	}
	_ = probe.Close()
	return false
}

func (r *Repeater) remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, key)
}

// Dropped 因限速丢弃的数据报数量
func (r *Repeater) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
