package beacon

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanaccess/internal/core/search"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

type anomalyEvent struct {
	server        string
	networkChange bool
}

type recordingListener struct {
	mu        sync.Mutex
	arrived   []string
	anomalies []anomalyEvent
	onAnomaly func()
}

func (l *recordingListener) BeaconArrived(server string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arrived = append(l.arrived, server)
}

func (l *recordingListener) BeaconAnomaly(server string, networkChange bool) {
	l.mu.Lock()
	l.anomalies = append(l.anomalies, anomalyEvent{server, networkChange})
	fn := l.onAnomaly
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *recordingListener) anomalyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.anomalies)
}

const period = 15 * time.Second

// stableMonitor 返回一个已经收到 n 个规则信标的监视器
func stableMonitor(t *testing.T, server string, n int) (*Monitor, *clock.Mock, *recordingListener, uint32) {
	t.Helper()
	clk := clock.NewMock()
	l := &recordingListener{}
	m, err := NewMonitor(16, clk, l, nil)
	require.NoError(t, err)

	seq := uint32(100)
	for i := 0; i < n; i++ {
		m.Observe(server, seq)
		seq++
		clk.Add(period)
	}
	return m, clk, l, seq
}

// TestMonitor_FirstBeaconIsAnomaly 测试首个信标为异常
func TestMonitor_FirstBeaconIsAnomaly(t *testing.T) {
	m, _, l, _ := stableMonitor(t, "10.0.0.1:5064", 0)
	assert.True(t, m.Observe("10.0.0.1:5064", 7))
	require.Equal(t, 1, l.anomalyCount())
	assert.False(t, l.anomalies[0].networkChange)
	rec, ok := m.Record("10.0.0.1:5064")
	require.True(t, ok)
	assert.True(t, rec.Anomaly)

	t.Log("✅ 首个信标触发异常")
}

// TestMonitor_RegularBeacons 测试规则信标不产生异常
func TestMonitor_RegularBeacons(t *testing.T) {
	server := "10.0.0.1:5064"
	m, _, l, _ := stableMonitor(t, server, 12)
	assert.Equal(t, 1, l.anomalyCount(), "只有首个信标")

	rec, _ := m.Record(server)
	assert.Equal(t, period, rec.AvgPeriod)
	assert.Equal(t, 11, rec.Periods)
	assert.Len(t, l.arrived, 12)
}

// TestMonitor_SequenceFilter 测试重复与乱序信标被忽略
func TestMonitor_SequenceFilter(t *testing.T) {
	server := "10.0.0.1:5064"
	m, clk, l, seq := stableMonitor(t, server, 10)
	before, _ := m.Record(server)
	arrived := len(l.arrived)

	for _, s := range []uint32{seq - 1, seq + 1, seq + 2} {
		clk.Add(time.Second)
		assert.False(t, m.Observe(server, s), "seq %d", s)
	}
	after, _ := m.Record(server)
	assert.Equal(t, before, after)
	assert.Equal(t, arrived, len(l.arrived))

	t.Log("✅ 序列号过滤生效")
}

// TestMonitor_SequenceWrap 测试序列号回绕
func TestMonitor_SequenceWrap(t *testing.T) {
	clk := clock.NewMock()
	m, err := NewMonitor(4, clk, nil, nil)
	require.NoError(t, err)
	m.Observe("s", 0xFFFFFFFF)
	clk.Add(period)
	m.Observe("s", 0)
	rec, _ := m.Record("s")
	assert.Equal(t, uint32(0), rec.LastSeq)
	assert.Equal(t, 1, rec.Periods)
}

// TestMonitor_LargeGapIsNetworkChange 测试超长间隔视为网络变化
func TestMonitor_LargeGapIsNetworkChange(t *testing.T) {
	server := "10.0.0.1:5064"
	m, clk, l, seq := stableMonitor(t, server, 12)
	clk.Add(4 * period)
	assert.True(t, m.Observe(server, seq))
	require.Equal(t, 2, l.anomalyCount())
	assert.Equal(t, anomalyEvent{server, true}, l.anomalies[1])
}

// TestMonitor_MissedBeacon 测试漏掉一个信标只在平均值收敛前视为异常
func TestMonitor_MissedBeacon(t *testing.T) {
	server := "10.0.0.1:5064"

	m, clk, _, seq := stableMonitor(t, server, 12)
	clk.Add(period)
	assert.False(t, m.Observe(server, seq), "收敛后漏一个信标不是异常")

	m, clk, _, seq = stableMonitor(t, server, 3)
	clk.Add(period)
	assert.True(t, m.Observe(server, seq), "收敛前漏一个信标是异常")
}

// TestMonitor_ShortPeriodIsRestart 测试周期明显变短视为重启
func TestMonitor_ShortPeriodIsRestart(t *testing.T) {
	server := "10.0.0.1:5064"
	m, clk, l, seq := stableMonitor(t, server, 12)
	// stableMonitor 最后一次推进了一个周期，回退到 5 秒
	clk.Set(clk.Now().Add(-period + 5*time.Second))
	assert.True(t, m.Observe(server, seq))
	assert.Equal(t, anomalyEvent{server, false}, l.anomalies[len(l.anomalies)-1])
}

// TestMonitor_LRUBound 测试记录数量有界
func TestMonitor_LRUBound(t *testing.T) {
	m, err := NewMonitor(2, clock.NewMock(), nil, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		m.Observe(fmt.Sprintf("10.0.0.%d:5064", i), 1)
	}
	assert.Equal(t, 2, m.Len())
	_, ok := m.Record("10.0.0.0:5064")
	assert.False(t, ok)
	_, ok = m.Record("10.0.0.4:5064")
	assert.True(t, ok)

	m.Forget("10.0.0.4:5064")
	assert.Equal(t, 1, m.Len())

	_, err = NewMonitor(0, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestServerAddress 测试从信标帧解析服务端地址
func TestServerAddress(t *testing.T) {
	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 5), Port: 5065}

	h := protocol.Header{Command: protocol.CmdBeacon, DataType: protocol.MinorRevision, DataCount: 5064}
	assert.Equal(t, "192.168.1.5:5064", ServerAddress(from, h))

	h.Parameter2 = 0x0A000001
	assert.Equal(t, "10.0.0.1:5064", ServerAddress(from, h))

	// 端口在 dataType 字段
	h = protocol.Header{Command: protocol.CmdBeacon, DataType: 6000}
	assert.Equal(t, "192.168.1.5:6000", ServerAddress(from, h))
}

// ============================================================================
//                              与搜索调度器联动
// ============================================================================

type searchingChannel struct {
	name  string
	entry *search.Entry
}

func (c *searchingChannel) SearchName() string         { return c.name }
func (c *searchingChannel) SearchCID() uint32          { return 1 }
func (c *searchingChannel) SearchEntry() *search.Entry { return c.entry }

// TestMonitor_AnomalySweepsSearches 测试信标异常把所有搜索中的通道移回最快层
func TestMonitor_AnomalySweepsSearches(t *testing.T) {
	clk := clock.NewMock()
	cfg := search.DefaultConfig()
	cfg.DatagramRate = 0
	sched, err := search.New(cfg, clk, func([]byte) error { return nil }, nil)
	require.NoError(t, err)

	chans := make([]*searchingChannel, 5)
	for i := range chans {
		chans[i] = &searchingChannel{name: fmt.Sprintf("pv:%d", i), entry: search.NewEntry()}
		sched.Register(chans[i])
	}
	// 推进到所有通道都离开最快层
	start := clk.Now()
	for step := time.Duration(0); step < 5*time.Second; step += cfg.Tick {
		sched.Tick(start.Add(step))
	}
	for _, ch := range chans {
		require.Greater(t, ch.entry.Tier(), 0)
	}

	l := &recordingListener{onAnomaly: sched.Sweep}
	m, err := NewMonitor(16, clk, l, nil)
	require.NoError(t, err)

	server := "10.0.0.9:5064"
	m.Observe(server, 1)

	for _, ch := range chans {
		assert.Equal(t, 0, ch.entry.Tier(), ch.name)
	}
	assert.Equal(t, len(chans), sched.TierLen(0))

	t.Log("✅ 信标异常触发清扫")
}
