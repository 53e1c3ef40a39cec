package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanaccess/internal/core/wire"
	"github.com/dep2p/go-chanaccess/internal/server"
	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

const e2eTimeout = 5 * time.Second

type testServer struct {
	ctx   *server.Context
	hooks *server.DefaultServer
	addr  string
}

func startServer(t *testing.T, port int) *testServer {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.InterfaceAddr = "127.0.0.1"
	cfg.Port = port
	cfg.AutoBeaconAddrList = false
	cfg.BeaconAddrList = nil

	hooks := server.NewDefaultServer()
	srv, err := server.New(cfg, hooks, server.Deps{})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { _ = srv.Destroy() })
	return &testServer{
		ctx:   srv,
		hooks: hooks,
		addr:  net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port())),
	}
}

func (s *testServer) add(t *testing.T, name string, rights types.AccessRights, vals ...float64) *server.MemoryProcessVariable {
	t.Helper()
	v, err := dbr.FromFloats(dbr.Double, vals)
	require.NoError(t, err)
	pv, err := server.NewMemoryProcessVariable(name, v, rights)
	require.NoError(t, err)
	s.hooks.Add(pv)
	return pv
}

func doubles(t *testing.T, vals ...float64) types.Value {
	t.Helper()
	v, err := dbr.FromFloats(dbr.Double, vals)
	require.NoError(t, err)
	return v
}

func pvFloats(t *testing.T, pv *server.MemoryProcessVariable) []float64 {
	t.Helper()
	got, err := dbr.Floats(pv.Value())
	require.NoError(t, err)
	return got
}

func connectChannel(t *testing.T, c *Context, name string, log *eventLog) *Channel {
	t.Helper()
	var l ConnectionListener
	if log != nil {
		l = log.listener
	}
	ch, err := c.CreateChannel(name, 0, l)
	require.NoError(t, err)
	require.NoError(t, c.PendIO(context.Background(), e2eTimeout))
	require.True(t, ch.Connected())
	return ch
}

// TestE2E_ConnectGetPut 测试连接、读取与写入
func TestE2E_ConnectGetPut(t *testing.T) {
	srv := startServer(t, 0)
	pv := srv.add(t, "e2e:ai", types.AccessReadWrite, 1.5, 2.5)
	c := newTestContext(t, testConfig(srv.addr))

	var log eventLog
	ch := connectChannel(t, c, "e2e:ai", &log)
	assert.Equal(t, uint16(dbr.Double), ch.FieldType())
	assert.Equal(t, uint32(2), ch.ElementCount())
	assert.Equal(t, types.AccessReadWrite, ch.AccessRights())
	assert.Equal(t, srv.addr, ch.HostName())
	assert.Equal(t, 0, c.Scheduler().Len())

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, e2eTimeout, 5*time.Millisecond)
	ev, _ := log.last()
	assert.True(t, ev.Connected)
	assert.Equal(t, "e2e:ai", ev.Channel)

	ctx, cancel := context.WithTimeout(context.Background(), e2eTimeout)
	defer cancel()

	v, err := ch.Get(ctx, uint16(dbr.Double), 0)
	require.NoError(t, err)
	got, err := dbr.Floats(v)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5}, got)

	// 以字符串读取
	s, err := ch.Get(ctx, uint16(dbr.String), 1)
	require.NoError(t, err)
	strs, err := dbr.Strings(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.5"}, strs)

	require.NoError(t, ch.PutWait(ctx, doubles(t, 7, 8)))
	assert.Equal(t, []float64{7, 8}, pvFloats(t, pv))

	require.NoError(t, ch.Put(doubles(t, 9)))
	require.Eventually(t, func() bool { return pvFloats(t, pv)[0] == 9 }, e2eTimeout, 5*time.Millisecond)

	// 异步读取计入 PendIO
	results := make(chan []float64, 1)
	require.NoError(t, ch.GetAsync(uint16(dbr.Long), 1, func(v types.Value, err error) {
		f, _ := dbr.Floats(v)
		if err == nil {
			results <- f
		}
	}))
	require.NoError(t, c.PendIO(context.Background(), e2eTimeout))
	select {
	case f := <-results:
		assert.Equal(t, []float64{9}, f)
	case <-time.After(e2eTimeout):
		t.Fatal("异步读取未完成")
	}
	t.Log("✅ 连接、读取、写入端到端正确")
}

// TestE2E_ReadOnly 测试只读通道
func TestE2E_ReadOnly(t *testing.T) {
	srv := startServer(t, 0)
	srv.add(t, "e2e:ro", types.AccessRead, 1)
	c := newTestContext(t, testConfig(srv.addr))
	ch := connectChannel(t, c, "e2e:ro", nil)

	assert.Equal(t, types.AccessRead, ch.AccessRights())
	assert.ErrorIs(t, ch.Put(doubles(t, 2)), ErrNoWriteAccess)
	assert.ErrorIs(t, ch.PutWait(context.Background(), doubles(t, 2)), ErrNoWriteAccess)

	_, err := ch.Get(context.Background(), uint16(dbr.Double), 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.StatusBadCount))
	t.Log("✅ 只读通道拒绝写入，超出个数返回 BADCOUNT")
}

// TestE2E_Subscribe 测试订阅更新与取消
func TestE2E_Subscribe(t *testing.T) {
	srv := startServer(t, 0)
	pv := srv.add(t, "e2e:mon", types.AccessReadWrite, 1)
	c := newTestContext(t, testConfig(srv.addr))

	ch, err := c.CreateChannel("e2e:mon", 0, nil)
	require.NoError(t, err)

	// 连接前订阅，连接后补发
	events := make(chan types.MonitorEvent, 16)
	m, err := ch.Subscribe(uint16(dbr.Double), 1, types.MaskValue, func(ev types.MonitorEvent) { events <- ev })
	require.NoError(t, err)
	require.NoError(t, c.PendIO(context.Background(), e2eTimeout))

	next := func() []float64 {
		t.Helper()
		select {
		case ev := <-events:
			require.NoError(t, ev.Status)
			f, err := dbr.Floats(ev.Value)
			require.NoError(t, err)
			return f
		case <-time.After(e2eTimeout):
			t.Fatal("等待订阅更新超时")
			return nil
		}
	}
	assert.Equal(t, []float64{1}, next())

	require.NoError(t, pv.Write(doubles(t, 2)))
	assert.Equal(t, []float64{2}, next())

	require.NoError(t, m.Clear())
	assert.Equal(t, 0, ch.Monitors())
	require.Eventually(t, func() bool { return pv.Subscribers() == 0 }, e2eTimeout, 5*time.Millisecond)

	require.NoError(t, pv.Write(doubles(t, 3)))
	select {
	case ev := <-events:
		t.Fatalf("取消后不应收到更新: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	t.Log("✅ 订阅补发、更新与取消正确")
}

// TestE2E_SharedChannelClose 测试共享通道最后一次关闭才清除服务端通道
func TestE2E_SharedChannelClose(t *testing.T) {
	srv := startServer(t, 0)
	pv := srv.add(t, "e2e:shared", types.AccessReadWrite, 1)
	c := newTestContext(t, testConfig(srv.addr))

	a := connectChannel(t, c, "e2e:shared", nil)
	b, err := c.CreateChannel("e2e:shared", 0, nil)
	require.NoError(t, err)
	require.Same(t, a, b)

	_, err = a.Subscribe(uint16(dbr.Double), 1, types.MaskValue, func(types.MonitorEvent) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pv.Subscribers() == 1 }, e2eTimeout, 5*time.Millisecond)

	require.NoError(t, a.Close())
	assert.True(t, b.Connected())
	assert.Equal(t, 1, pv.Subscribers())

	require.NoError(t, b.Close())
	assert.Equal(t, types.StateClosed, b.State())
	// ClearChannel 注销服务端订阅，最后一个所有者释放后电路关闭
	require.Eventually(t, func() bool {
		return pv.Subscribers() == 0 && len(c.Circuits()) == 0
	}, e2eTimeout, 5*time.Millisecond)
	t.Log("✅ 引用计数控制服务端通道生命周期")
}

// TestE2E_Reconnect 测试服务端重启后断开、重新搜索与重连
func TestE2E_Reconnect(t *testing.T) {
	srv := startServer(t, 0)
	port := srv.ctx.Port()
	pv := srv.add(t, "e2e:re", types.AccessReadWrite, 1)
	c := newTestContext(t, testConfig(srv.addr))

	var log eventLog
	ch := connectChannel(t, c, "e2e:re", &log)
	events := make(chan types.MonitorEvent, 16)
	_, err := ch.Subscribe(uint16(dbr.Double), 1, types.MaskValue, func(ev types.MonitorEvent) { events <- ev })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pv.Subscribers() == 1 }, e2eTimeout, 5*time.Millisecond)

	require.NoError(t, srv.ctx.Destroy())
	require.Eventually(t, func() bool {
		return ch.State() == types.StateDisconnected
	}, e2eTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		ev, ok := log.last()
		return ok && !ev.Connected
	}, e2eTimeout, 5*time.Millisecond)
	_, err = ch.Get(context.Background(), uint16(dbr.Double), 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1, c.Scheduler().Len())

	// 同一端口重启服务端
	srv2 := startServer(t, port)
	pv2 := srv2.add(t, "e2e:re", types.AccessReadWrite, 42)
	require.Eventually(t, ch.Connected, e2eTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool { return pv2.Subscribers() == 1 }, e2eTimeout, 5*time.Millisecond)

	evs := log.snapshot()
	require.Len(t, evs, 3)
	assert.True(t, evs[0].Connected)
	assert.False(t, evs[1].Connected)
	assert.True(t, evs[2].Connected)

	// 订阅随重连重放，收到新服务端的首值
	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			f, err := dbr.Floats(ev.Value)
			return err == nil && len(f) == 1 && f[0] == 42
		default:
			return false
		}
	}, e2eTimeout, 5*time.Millisecond)
	t.Log("✅ 断开后重新搜索并恢复订阅")
}

// TestE2E_UnknownChannel 测试不存在的通道保持搜索
func TestE2E_UnknownChannel(t *testing.T) {
	srv := startServer(t, 0)
	c := newTestContext(t, testConfig(srv.addr))

	ch, err := c.CreateChannel("e2e:missing", 0, nil)
	require.NoError(t, err)
	err = c.PendIO(context.Background(), 200*time.Millisecond)
	assert.True(t, errors.Is(err, protocol.StatusTimeout))
	assert.Equal(t, types.StateNeverConnected, ch.State())
	assert.Equal(t, 1, c.Scheduler().Len())
	assert.Equal(t, 0, srv.ctx.Sessions())

	// 服务端后来提供该通道
	srv.add(t, "e2e:missing", types.AccessRead, 3)
	c.Scheduler().Sweep()
	require.NoError(t, c.PendIO(context.Background(), e2eTimeout))
	assert.True(t, ch.Connected())
	t.Log("✅ 未找到的通道持续搜索直到出现")
}

// TestE2E_DestroyWithConnectedChannels 测试销毁已连接的上下文
func TestE2E_DestroyWithConnectedChannels(t *testing.T) {
	srv := startServer(t, 0)
	pv := srv.add(t, "e2e:bye", types.AccessReadWrite, 1)
	c, err := New(testConfig(srv.addr), Deps{})
	require.NoError(t, err)
	c.Start()

	ch := connectChannel(t, c, "e2e:bye", nil)
	_, err = ch.Subscribe(uint16(dbr.Double), 1, types.MaskValue, func(types.MonitorEvent) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pv.Subscribers() == 1 }, e2eTimeout, 5*time.Millisecond)

	require.NoError(t, c.Destroy())
	assert.Equal(t, types.StateClosed, ch.State())
	assert.Empty(t, c.Circuits())
	require.Eventually(t, func() bool {
		return pv.Subscribers() == 0 && srv.ctx.Sessions() == 0
	}, e2eTimeout, 5*time.Millisecond)
	t.Log("✅ 销毁关闭电路并释放服务端资源")
}

// TestE2E_DuplicateSearchResponses 测试重复的搜索响应只产生一条电路与一次创建
func TestE2E_DuplicateSearchResponses(t *testing.T) {
	srv := startServer(t, 0)
	srv.add(t, "e2e:dup", types.AccessReadWrite, 1)
	// 不配置搜索地址，响应全部由测试注入
	c := newTestContext(t, testConfig())

	var log eventLog
	ch, err := c.CreateChannel("e2e:dup", 0, log.listener)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.searchResponse(srv.addr, protocol.MinorRevision)
		}()
	}
	wg.Wait()

	require.Eventually(t, ch.Connected, e2eTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, e2eTimeout, 5*time.Millisecond)
	assert.Len(t, c.Circuits(), 1)
	assert.Equal(t, 1, srv.ctx.Sessions())
	assert.Equal(t, 1, srv.ctx.Channels())
	assert.Equal(t, 0, c.Scheduler().Len())

	// 已连接后同一服务端的应答不是重复
	assert.False(t, ch.duplicateResponse(srv.addr))
	ch.searchResponse(srv.addr, protocol.MinorRevision)
	assert.Never(t, func() bool { return len(log.snapshot()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, srv.ctx.Channels())
	t.Log("✅ 重复响应不产生第二次创建")
}

// TestE2E_SecondServerIgnored 测试另一服务端提供同名通道时保留先到者
func TestE2E_SecondServerIgnored(t *testing.T) {
	srv := startServer(t, 0)
	srv.add(t, "e2e:twin", types.AccessReadWrite, 1)
	other := startServer(t, 0)
	other.add(t, "e2e:twin", types.AccessReadWrite, 2)
	c := newTestContext(t, testConfig())

	ch, err := c.CreateChannel("e2e:twin", 0, nil)
	require.NoError(t, err)
	ch.searchResponse(srv.addr, protocol.MinorRevision)
	require.Eventually(t, ch.Connected, e2eTimeout, 5*time.Millisecond)

	// 另一服务端的应答：直接送达与序列号相同被判为过期两种路径
	assert.True(t, ch.duplicateResponse(other.addr))
	ch.searchResponse(other.addr, protocol.MinorRevision)

	port, err := strconv.Atoi(other.addr[len("127.0.0.1:"):])
	require.NoError(t, err)
	f := wire.Frame{Header: protocol.Header{
		Command:    protocol.CmdSearch,
		DataType:   uint16(port),
		Parameter1: protocol.UnknownServerAddress,
		Parameter2: ch.CID(),
	}}
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	c.handleSearchResponse(from, f, c.Scheduler().LastSent()+1, true, protocol.MinorRevision)

	assert.Never(t, func() bool { return other.ctx.Sessions() > 0 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.Len(t, c.Circuits(), 1)
	assert.Equal(t, srv.addr, ch.HostName())
	assert.Equal(t, 0, other.ctx.Channels())
	t.Log("✅ 先应答的服务端胜出")
}

// TestE2E_InFlightRequestsFailOnDisconnect 测试电路强制关闭时在途请求以断开状态结束
func TestE2E_InFlightRequestsFailOnDisconnect(t *testing.T) {
	srv := startServer(t, 0)
	srv.add(t, "e2e:inflight", types.AccessReadWrite, 1)
	c := newTestContext(t, testConfig(srv.addr))
	ch := connectChannel(t, c, "e2e:inflight", nil)

	const n = 8
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		r := &putRequest{ch: ch, cb: func(err error) { results <- err }}
		// 只登记不发送，保证关闭时请求仍在途
		_, _, _, err := ch.reserve(r, false, true)
		require.NoError(t, err)
	}
	assert.Equal(t, n, c.requests.Len())

	circs := c.Circuits()
	require.Len(t, circs, 1)
	_ = circs[0].Close(true)

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			assert.True(t, errors.Is(err, protocol.StatusDisconn), "err = %v", err)
		case <-time.After(e2eTimeout):
			t.Fatalf("第 %d 个请求未结束", i)
		}
	}
	assert.Equal(t, 0, c.requests.Len())

	// 通道重新搜索并连接
	require.Eventually(t, ch.Connected, e2eTimeout, 10*time.Millisecond)
	t.Log("✅ 在途请求以断开状态结束")
}
