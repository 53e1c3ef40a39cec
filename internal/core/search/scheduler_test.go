package search

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanaccess/internal/core/wire"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

type fakeChannel struct {
	name  string
	cid   uint32
	entry *Entry
}

func newFakeChannel(name string, cid uint32) *fakeChannel {
	return &fakeChannel{name: name, cid: cid, entry: NewEntry()}
}

func (f *fakeChannel) SearchName() string  { return f.name }
func (f *fakeChannel) SearchCID() uint32   { return f.cid }
func (f *fakeChannel) SearchEntry() *Entry { return f.entry }

type sentLog struct {
	mu        sync.Mutex
	datagrams [][]byte
}

func (l *sentLog) send(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.datagrams = append(l.datagrams, append([]byte(nil), b...))
	return nil
}

func (l *sentLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.datagrams)
}

func testConfig() Config {
	return Config{
		Tick:            time.Millisecond,
		TierCount:       4,
		InitialInterval: 10 * time.Millisecond,
		GrowthFactor:    2,
		MaxInterval:     time.Second,
		AttemptsPerTier: 2,
		BatchSize:       256,
		MaxAttempts:     6,
		MaxDatagram:     protocol.MaxUDPSend,
		Minor:           protocol.MinorRevision,
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *clock.Mock, *sentLog) {
	t.Helper()
	clk := clock.NewMock()
	log := &sentLog{}
	s, err := New(testConfig(), clk, log.send, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clk, log
}

// ============================================================================
//                              注册与注销
// ============================================================================

// TestScheduler_UnregisterLeavesNoMembership 测试注销后通道不在任何层中
func TestScheduler_UnregisterLeavesNoMembership(t *testing.T) {
	s, clk, _ := newTestScheduler(t)

	chans := make([]*fakeChannel, 20)
	for i := range chans {
		chans[i] = newFakeChannel(fmt.Sprintf("pv:%d", i), uint32(i+1))
		s.Register(chans[i])
	}
	// 推进若干节拍，让条目分布到不同层
	for i := 0; i < 10; i++ {
		clk.Add(10 * time.Millisecond)
		s.Tick(clk.Now())
	}
	for i := 0; i < len(chans); i += 2 {
		s.Unregister(chans[i])
	}

	members := map[*fakeChannel]int{}
	s.Scan(func(_ int, ch Searcher) { members[ch.(*fakeChannel)]++ })
	for i, ch := range chans {
		if i%2 == 0 {
			assert.Zero(t, members[ch], "已注销通道仍在调度中: %s", ch.name)
			assert.False(t, ch.entry.Registered())
		} else {
			assert.Equal(t, 1, members[ch], "通道应恰好出现一次: %s", ch.name)
		}
	}
	assert.Equal(t, 10, s.Len())

	t.Log("✅ 注销后无残留成员")
}

// TestScheduler_RegisterIdempotent 测试重复注册不产生重复条目
func TestScheduler_RegisterIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ch := newFakeChannel("pv:a", 1)
	s.Register(ch)
	s.Register(ch)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, ch.entry.Tier())

	s.Unregister(ch)
	s.Unregister(ch)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, -1, ch.entry.Tier())
}

// TestScheduler_ConcurrentRegisterUnregister 测试与节拍并发的注册注销
func TestScheduler_ConcurrentRegisterUnregister(t *testing.T) {
	s, clk, _ := newTestScheduler(t)
	chans := make([]*fakeChannel, 64)
	for i := range chans {
		chans[i] = newFakeChannel(fmt.Sprintf("pv:%d", i), uint32(i+1))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				for i := w; i < len(chans); i += 4 {
					s.Register(chans[i])
					if round%2 == 1 {
						s.Unregister(chans[i])
					}
				}
			}
		}(w)
	}
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				s.Tick(clk.Now().Add(time.Hour))
			}
		}
	}()
	wg.Wait()
	close(stop)

	// 最后一轮 round=49 为注销
	for _, ch := range chans {
		assert.False(t, ch.entry.Registered())
	}
	s.Tick(clk.Now().Add(2 * time.Hour))
	assert.Equal(t, 0, s.Len())
}

// ============================================================================
//                              层级
// ============================================================================

// TestScheduler_TierEscalation 测试按预算逐层降级并最终固定在最慢层
func TestScheduler_TierEscalation(t *testing.T) {
	s, clk, log := newTestScheduler(t)
	ch := newFakeChannel("pv:escalate", 7)
	s.Register(ch)
	start := clk.Now()

	steps := []struct {
		at       time.Duration
		sends    int
		tier     int
		attempts int
	}{
		{0, 1, 0, 1},
		{10 * time.Millisecond, 2, 1, 2},
		{20 * time.Millisecond, 2, 1, 2}, // 第 1 层周期 20ms，尚未到期
		{30 * time.Millisecond, 3, 1, 3},
		{70 * time.Millisecond, 4, 2, 4},
		{110 * time.Millisecond, 5, 2, 5},
		{150 * time.Millisecond, 6, 3, 6}, // 达到总预算，固定在最慢层
	}
	for _, st := range steps {
		s.Tick(start.Add(st.at))
		assert.Equal(t, st.sends, log.count(), "at %v", st.at)
		assert.Equal(t, st.tier, ch.entry.Tier(), "at %v", st.at)
		assert.Equal(t, st.attempts, s.Attempts(ch), "at %v", st.at)
	}

	t.Log("✅ 层级降级符合预算")
}

// TestScheduler_Sweep 测试清扫把所有条目移回最快层
func TestScheduler_Sweep(t *testing.T) {
	s, clk, log := newTestScheduler(t)
	ch := newFakeChannel("pv:sweep", 1)
	s.Register(ch)
	start := clk.Now()
	for _, at := range []time.Duration{0, 10, 30, 70} {
		s.Tick(start.Add(at * time.Millisecond))
	}
	require.Equal(t, 2, ch.entry.Tier())
	sent := log.count()

	clk.Set(start.Add(80 * time.Millisecond))
	s.Sweep()
	assert.Equal(t, 0, ch.entry.Tier())
	assert.Equal(t, 0, s.Attempts(ch))
	assert.Equal(t, 1, s.TierLen(0))

	// 清扫后下一个节拍立即发送
	s.Tick(clk.Now())
	assert.Equal(t, sent+1, log.count())
	assert.Equal(t, 0, ch.entry.Tier())
	assert.Equal(t, 1, s.Attempts(ch))

	t.Log("✅ 清扫重置层级")
}

// TestScheduler_TierPeriod 测试层周期按倍数增长并封顶
func TestScheduler_TierPeriod(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.InitialInterval, cfg.TierPeriod(0))
	assert.Equal(t, 2*cfg.InitialInterval, cfg.TierPeriod(1))
	assert.Equal(t, cfg.MaxInterval, cfg.TierPeriod(100))
}

// ============================================================================
//                              数据报
// ============================================================================

// TestScheduler_DatagramPacking 测试打包不超过数据报上限且每个数据报携带新序列号
func TestScheduler_DatagramPacking(t *testing.T) {
	s, clk, log := newTestScheduler(t)
	name := strings.Repeat("x", 40)
	for i := 0; i < 100; i++ {
		s.Register(newFakeChannel(fmt.Sprintf("%s%03d", name[:37], i), uint32(i+1)))
	}
	s.Tick(clk.Now())

	// 每帧 16 + 48 字节，每个数据报 15 个名称
	require.Equal(t, 7, log.count())
	var prevSeq uint32
	searches := 0
	for _, dg := range log.datagrams {
		assert.LessOrEqual(t, len(dg), protocol.MaxUDPSend)
		first := true
		err := wire.ForEach(dg, func(f wire.Frame) error {
			if first {
				first = false
				assert.Equal(t, protocol.CmdVersion, f.Header.Command)
				assert.Equal(t, protocol.SequenceNumberValid, f.Header.DataType)
				assert.Greater(t, f.Header.Parameter1, prevSeq)
				prevSeq = f.Header.Parameter1
				return nil
			}
			assert.Equal(t, protocol.CmdSearch, f.Header.Command)
			assert.Equal(t, protocol.SearchDontReply, f.Header.DataType)
			searches++
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 100, searches)
	assert.Equal(t, prevSeq, s.LastSent())

	t.Log("✅ 数据报打包正确")
}

// TestScheduler_BatchSize 测试每层每节拍最多发送一批
func TestScheduler_BatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 3
	clk := clock.NewMock()
	log := &sentLog{}
	s, err := New(cfg, clk, log.send, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s.Register(newFakeChannel(fmt.Sprintf("pv:%d", i), uint32(i+1)))
	}
	s.Tick(clk.Now())
	require.Equal(t, 1, log.count())
	frames := 0
	require.NoError(t, wire.ForEach(log.datagrams[0], func(wire.Frame) error { frames++; return nil }))
	assert.Equal(t, 4, frames)
}

// ============================================================================
//                              响应序列号
// ============================================================================

// TestScheduler_AcceptStaleSequence 测试过期序列号的响应被丢弃
func TestScheduler_AcceptStaleSequence(t *testing.T) {
	s, clk, _ := newTestScheduler(t)
	a := newFakeChannel("pv:a", 1)
	s.Register(a)
	s.Tick(clk.Now())
	clk.Add(10 * time.Millisecond)
	s.Tick(clk.Now())
	require.Equal(t, uint32(2), s.LastSent())

	assert.False(t, s.Accept(a, 3, true), "未发送过的序列号")
	assert.True(t, s.Accept(a, 2, true))
	assert.False(t, s.Accept(a, 2, true), "重复序列号")
	assert.False(t, s.Accept(a, 1, true), "更早的序列号")
	assert.True(t, s.Accept(a, 0, false), "无序列号的响应总是接受")

	t.Log("✅ 过期响应被丢弃")
}

// TestScheduler_StartClose 测试节拍协程的启停
func TestScheduler_StartClose(t *testing.T) {
	clk := clock.NewMock()
	log := &sentLog{}
	s, err := New(testConfig(), clk, log.send, nil)
	require.NoError(t, err)
	s.Register(newFakeChannel("pv:run", 1))
	s.Start()
	clk.Add(time.Millisecond)
	assert.Eventually(t, func() bool { return log.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

// TestConfig_Validate 测试配置验证
func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.TierCount = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	cfg = DefaultConfig()
	cfg.MaxInterval = cfg.InitialInterval / 2
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
