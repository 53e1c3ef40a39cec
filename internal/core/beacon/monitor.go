package beacon

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/internal/core/udp"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

var logger = log.Logger("core/beacon")

const (
	// 平均周期权重
	avgWeight = 0.125

	missedRatio        = 1.25
	networkChangeRatio = 3.25
	restartRatio       = 0.80

	// stableAfter 测得多少个周期后平均值视为已收敛
	stableAfter = 8
)

// Listener 信标事件监听者
type Listener interface {
	// BeaconArrived 收到来自 server 的信标（已去重）
	BeaconArrived(server string)
	// BeaconAnomaly 检测到 server 的信标异常
	BeaconAnomaly(server string, networkChange bool)
}

// Record 信标记录快照
type Record struct {
	LastSeen  time.Time
	AvgPeriod time.Duration
	LastSeq   uint32
	Periods   int
	Anomaly   bool
}

type record struct {
	mu sync.Mutex
	Record
}

// Monitor 信标监视器
type Monitor struct {
	clock    clock.Clock
	listener Listener
	metrics  *metrics.Collector

	mu      sync.Mutex
	records *lru.Cache[string, *record]
}

// NewMonitor 创建信标监视器，最多跟踪 maxRecords 个服务端
func NewMonitor(maxRecords int, clk clock.Clock, listener Listener, m *metrics.Collector) (*Monitor, error) {
	if maxRecords <= 0 {
		return nil, fmt.Errorf("%w: max records %d", ErrInvalidConfig, maxRecords)
	}
	cache, err := lru.New[string, *record](maxRecords)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		clock:    clk,
		listener: listener,
		metrics:  m,
		records:  cache,
	}, nil
}

// ServerAddress 从信标帧得出服务端地址
//
// p2 非零时为服务端 IP，否则使用数据报源地址；端口优先取 count 字段，
// 兼容把端口放在 dataType 字段的旧实现。
func ServerAddress(from *net.UDPAddr, h protocol.Header) string {
	ip := from.IP
	if h.Parameter2 != 0 {
		ip = udp.Uint32ToIPv4(h.Parameter2)
	}
	port := int(h.DataCount)
	if port == 0 {
		port = int(h.DataType)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

// HandleFrame 处理一个信标帧
func (m *Monitor) HandleFrame(from *net.UDPAddr, h protocol.Header) bool {
	return m.Observe(ServerAddress(from, h), h.Parameter1)
}

// Observe 记录 server 的一个信标，返回是否异常
func (m *Monitor) Observe(server string, seq uint32) bool {
	now := m.clock.Now()
	m.metrics.BeaconReceived()

	m.mu.Lock()
	r, ok := m.records.Get(server)
	if !ok {
		r = &record{Record: Record{LastSeen: now, LastSeq: seq, Anomaly: true}}
		m.records.Add(server, r)
	}
	m.mu.Unlock()

	if !ok {
		logger.Debug("首次收到服务端信标", "server", server, "seq", seq)
		m.notifyArrived(server)
		m.anomaly(server, false)
		return true
	}

	anomaly, networkChange, ignored := r.update(now, seq)
	if ignored {
		return false
	}
	m.notifyArrived(server)
	if anomaly {
		m.anomaly(server, networkChange)
	}
	return anomaly
}

// update 按周期更新记录
func (r *record) update(now time.Time, seq uint32) (anomaly, networkChange, ignored bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// uint32 减法自然处理回绕
	delta := seq - r.LastSeq
	if delta == 0 || delta == 2 || delta == 3 {
		return false, false, true
	}
	r.LastSeq = seq

	current := now.Sub(r.LastSeen)
	r.LastSeen = now
	if r.Periods == 0 {
		r.AvgPeriod = current
		r.Periods = 1
		r.Anomaly = false
		return false, false, false
	}

	avg := float64(r.AvgPeriod)
	cur := float64(current)
	switch {
	case cur >= avg*missedRatio:
		if cur >= avg*networkChangeRatio {
			anomaly, networkChange = true, true
		} else if r.Periods < stableAfter {
			anomaly = true
		}
	case cur <= avg*restartRatio:
		anomaly = true
	}

	r.AvgPeriod = time.Duration(avgWeight*cur + (1-avgWeight)*avg)
	r.Periods++
	r.Anomaly = anomaly
	return anomaly, networkChange, false
}

func (m *Monitor) notifyArrived(server string) {
	if m.listener != nil {
		m.listener.BeaconArrived(server)
	}
}

func (m *Monitor) anomaly(server string, networkChange bool) {
	m.metrics.BeaconAnomaly()
	logger.Debug("信标异常", "server", server, "networkChange", networkChange)
	if m.listener != nil {
		m.listener.BeaconAnomaly(server, networkChange)
	}
}

// Record 返回 server 的记录快照
func (m *Monitor) Record(server string) (Record, bool) {
	m.mu.Lock()
	r, ok := m.records.Peek(server)
	m.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Record, true
}

// Forget 删除 server 的记录
func (m *Monitor) Forget(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records.Remove(server)
}

// Len 跟踪的服务端数量
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.Len()
}
