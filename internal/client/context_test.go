package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanaccess/internal/core/dispatch"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// testConfig 不访问广播地址与转发器的配置
func testConfig(addrs ...string) Config {
	cfg := DefaultConfig()
	cfg.AddrList = addrs
	cfg.AutoAddrList = false
	cfg.RepeaterEnabled = false
	cfg.UserName = "tester"
	cfg.HostName = "localhost"
	return cfg
}

func newTestContext(t *testing.T, cfg Config) *Context {
	t.Helper()
	c, err := New(cfg, Deps{})
	require.NoError(t, err)
	c.Start()
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

// newIdleContext 不启动调度节拍，便于检查调度表
func newIdleContext(t *testing.T) *Context {
	t.Helper()
	c, err := New(testConfig(), Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

// eventLog 收集连接事件
type eventLog struct {
	mu     sync.Mutex
	events []types.ConnectionEvent
}

func (l *eventLog) listener(ev types.ConnectionEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []types.ConnectionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.ConnectionEvent(nil), l.events...)
}

func (l *eventLog) last() (types.ConnectionEvent, bool) {
	evs := l.snapshot()
	if len(evs) == 0 {
		return types.ConnectionEvent{}, false
	}
	return evs[len(evs)-1], true
}

// TestContext_InvalidConfig 测试配置校验
func TestContext_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ServerPort = 0
	_, err := New(cfg, Deps{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.Dispatch = "bogus"
	_, err = New(cfg, Deps{})
	assert.ErrorIs(t, err, dispatch.ErrUnknownMode)
	t.Log("✅ 非法配置被拒绝")
}

// TestContext_CreateChannelShared 测试同名同优先级通道共享
func TestContext_CreateChannelShared(t *testing.T) {
	c := newIdleContext(t)

	a, err := c.CreateChannel("shared:pv", 0, nil)
	require.NoError(t, err)
	b, err := c.CreateChannel("shared:pv", 0, nil)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 2, a.Refs())
	assert.Equal(t, 1, c.Scheduler().Len())

	// 不同优先级是不同的通道
	p, err := c.CreateChannel("shared:pv", 5, nil)
	require.NoError(t, err)
	assert.NotSame(t, a, p)
	assert.NotEqual(t, a.CID(), p.CID())
	assert.Equal(t, 2, c.Scheduler().Len())
	assert.Equal(t, types.StateNeverConnected, a.State())

	require.NoError(t, a.Close())
	assert.Equal(t, 1, a.Refs())
	got, ok := c.Channel("shared:pv", 0)
	require.True(t, ok)
	assert.Same(t, a, got)

	require.NoError(t, b.Close())
	assert.Equal(t, types.StateClosed, a.State())
	_, ok = c.Channel("shared:pv", 0)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Scheduler().Len())

	// 关闭后再关闭无副作用
	require.NoError(t, a.Close())

	// 重新创建得到新实例
	n, err := c.CreateChannel("shared:pv", 0, nil)
	require.NoError(t, err)
	assert.NotSame(t, a, n)
	t.Log("✅ 通道共享与引用计数正确")
}

// TestContext_CreateChannelValidation 测试通道名与优先级校验
func TestContext_CreateChannelValidation(t *testing.T) {
	c := newTestContext(t, testConfig())

	_, err := c.CreateChannel("", 0, nil)
	assert.Error(t, err)
	_, err = c.CreateChannel(strings.Repeat("x", protocol.MaxChannelNameLength+1), 0, nil)
	assert.Error(t, err)
	_, err = c.CreateChannel("ok", types.Priority(100), nil)
	assert.Error(t, err)
	assert.Empty(t, c.Channels())
	t.Log("✅ 非法名称与优先级被拒绝")
}

// TestContext_RequestsBeforeConnect 测试未连接时的请求
func TestContext_RequestsBeforeConnect(t *testing.T) {
	c := newTestContext(t, testConfig())
	ch, err := c.CreateChannel("never:there", 0, nil)
	require.NoError(t, err)

	_, err = ch.Get(context.Background(), 6, 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, ch.Put(types.Value{Type: 6, Count: 1, Data: make([]byte, 8)}), ErrNotConnected)

	_, err = ch.Subscribe(6, 1, 0, func(types.MonitorEvent) {})
	assert.True(t, errors.Is(err, protocol.StatusBadMask))

	// 未连接时允许登记订阅
	m, err := ch.Subscribe(6, 1, types.MaskValue, func(types.MonitorEvent) {})
	require.NoError(t, err)
	assert.Equal(t, 1, ch.Monitors())
	require.NoError(t, m.Clear())
	assert.Equal(t, 0, ch.Monitors())
	t.Log("✅ 未连接时读写失败、订阅可登记")
}

// TestContext_PendIOTimeout 测试 PendIO 超时
func TestContext_PendIOTimeout(t *testing.T) {
	c := newTestContext(t, testConfig())
	_, err := c.CreateChannel("never:found", 0, nil)
	require.NoError(t, err)
	assert.False(t, c.TestIO())

	start := time.Now()
	err = c.PendIO(context.Background(), 100*time.Millisecond)
	assert.True(t, errors.Is(err, protocol.StatusTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.PendIO(ctx, 0), context.Canceled)
	t.Log("✅ PendIO 超时与取消")
}

// TestContext_Destroy 测试销毁
func TestContext_Destroy(t *testing.T) {
	c, err := New(testConfig(), Deps{})
	require.NoError(t, err)
	c.Start()

	var log eventLog
	ch, err := c.CreateChannel("to:destroy", 0, log.listener)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- c.PendIO(context.Background(), 0) }()

	require.NoError(t, c.Destroy())
	require.NoError(t, c.Destroy())
	assert.True(t, c.Destroyed())
	assert.Equal(t, types.StateClosed, ch.State())
	assert.Equal(t, 0, c.Scheduler().Len())

	select {
	case err := <-done:
		// 通道销毁先于上下文标记完成，两种结果都表示等待者已被唤醒
		assert.True(t, err == nil || errors.Is(err, ErrContextDestroyed), "err = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("PendIO 未被唤醒")
	}

	_, err = c.CreateChannel("after:destroy", 0, nil)
	assert.ErrorIs(t, err, ErrContextDestroyed)
	assert.ErrorIs(t, c.PendIO(context.Background(), 0), ErrContextDestroyed)
	// 从未连接过的通道不产生断开事件
	assert.Empty(t, log.snapshot())
	t.Log("✅ 销毁幂等并唤醒等待者")
}

// TestContext_CreateDuringFinalClose 测试最后一次 Close 与 CreateChannel 交错
func TestContext_CreateDuringFinalClose(t *testing.T) {
	c := newIdleContext(t)
	old, err := c.CreateChannel("closing:pv", 0, nil)
	require.NoError(t, err)

	// 最后一次引用已释放、尚未销毁
	old.mu.Lock()
	old.refs = 0
	old.mu.Unlock()
	assert.False(t, old.Retain())

	got, err := c.CreateChannel("closing:pv", 0, nil)
	require.NoError(t, err)
	assert.NotSame(t, old, got)
	assert.NotEqual(t, old.CID(), got.CID())

	require.NoError(t, old.destroy())
	assert.Equal(t, types.StateClosed, old.State())
	assert.Equal(t, types.StateNeverConnected, got.State())
	cur, ok := c.Channel("closing:pv", 0)
	require.True(t, ok)
	assert.Same(t, got, cur)
	assert.Equal(t, 1, c.Scheduler().Len())
	t.Log("✅ 正在关闭的通道不会被再次共享")
}

// TestContext_ConcurrentCloseAndCreate 测试并发关闭与创建从不返回已关闭的通道
func TestContext_ConcurrentCloseAndCreate(t *testing.T) {
	c := newIdleContext(t)
	for i := 0; i < 300; i++ {
		ch, err := c.CreateChannel("churn:pv", 0, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var got *Channel
		var createErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = ch.Close()
		}()
		go func() {
			defer wg.Done()
			got, createErr = c.CreateChannel("churn:pv", 0, nil)
		}()
		wg.Wait()

		require.NoError(t, createErr)
		require.NotEqual(t, types.StateClosed, got.State(), "第 %d 次得到已关闭的通道", i)
		require.NoError(t, got.Close())
	}
	assert.Empty(t, c.Channels())
	assert.Equal(t, 0, c.Scheduler().Len())
	t.Log("✅ 并发关闭与创建下引用不丢失")
}
