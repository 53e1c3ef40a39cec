package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanaccess/internal/core/udp"
	"github.com/dep2p/go-chanaccess/internal/core/wire"
	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

const testTimeout = 2 * time.Second

func newTestServer(t *testing.T, mutate func(*Config)) (*Context, *DefaultServer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InterfaceAddr = "127.0.0.1"
	cfg.Port = 0
	cfg.AutoBeaconAddrList = false
	cfg.BeaconAddrList = nil
	if mutate != nil {
		mutate(&cfg)
	}

	hooks := NewDefaultServer()
	srv, err := New(cfg, hooks, Deps{})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { _ = srv.Destroy() })
	return srv, hooks
}

func addPV(t *testing.T, hooks *DefaultServer, name string, rights types.AccessRights, vals ...float64) *MemoryProcessVariable {
	t.Helper()
	pv, err := NewMemoryProcessVariable(name, mustFloats(t, dbr.Double, vals...), rights)
	require.NoError(t, err)
	hooks.Add(pv)
	return pv
}

// ============================================================================
//                              原始 TCP 客户端
// ============================================================================

type rawClient struct {
	conn   net.Conn
	frames chan wire.Frame
}

func dialRaw(t *testing.T, srv *Context) *rawClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp4", srv.Addr().String(), testTimeout)
	require.NoError(t, err)
	c := &rawClient{conn: conn, frames: make(chan wire.Frame, 64)}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		defer close(c.frames)
		fr := wire.NewFrameReader(conn, 4096, 1<<20)
		for {
			f, err := fr.Next()
			if err != nil {
				return
			}
			// 负载在下次读取前有效
			f.Payload = append([]byte(nil), f.Payload...)
			c.frames <- f
		}
	}()
	return c
}

func (c *rawClient) send(t *testing.T, b []byte) {
	t.Helper()
	_, err := c.conn.Write(b)
	require.NoError(t, err)
}

// next 读取下一帧并检查命令
func (c *rawClient) next(t *testing.T, cmd protocol.Command) wire.Frame {
	t.Helper()
	select {
	case f, ok := <-c.frames:
		require.True(t, ok, "连接已关闭，等待 %s", cmd)
		require.Equal(t, cmd, f.Header.Command)
		return f
	case <-time.After(testTimeout):
		t.Fatalf("等待 %s 超时", cmd)
		return wire.Frame{}
	}
}

func (c *rawClient) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f, ok := <-c.frames:
		if ok {
			t.Fatalf("不应收到帧 %s", f.Header.Command)
		}
	case <-time.After(d):
	}
}

// handshake 交换版本并创建通道，返回 sid
func (c *rawClient) handshake(t *testing.T, name string, cid uint32) (sid uint32, rights uint32) {
	t.Helper()
	c.send(t, protocol.AppendVersion(nil, 0, protocol.MinorRevision))
	v := c.next(t, protocol.CmdVersion)
	assert.Equal(t, uint32(protocol.MinorRevision), v.Header.DataCount)

	c.send(t, protocol.AppendCreateChannel(nil, name, cid, protocol.MinorRevision))
	ar := c.next(t, protocol.CmdAccessRights)
	assert.Equal(t, cid, ar.Header.Parameter1)
	resp := c.next(t, protocol.CmdCreateChannel)
	assert.Equal(t, cid, resp.Header.Parameter1)
	return resp.Header.Parameter2, ar.Header.Parameter2
}

func floatsOf(t *testing.T, f wire.Frame) []float64 {
	t.Helper()
	v := types.Value{Type: f.Header.DataType, Count: f.Header.DataCount, Data: f.Payload}
	got, err := dbr.Floats(v)
	require.NoError(t, err)
	return got
}

// ============================================================================
//                              TCP 会话
// ============================================================================

// TestServer_CreateReadWrite 测试创建通道、读取与带确认写入
func TestServer_CreateReadWrite(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	pv := addPV(t, hooks, "test:ai", types.AccessReadWrite, 1.5)
	c := dialRaw(t, srv)

	sid, rights := c.handshake(t, "test:ai", 7)
	assert.Equal(t, uint32(types.AccessReadWrite), rights)
	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, testTimeout, 5*time.Millisecond)

	c.send(t, protocol.AppendReadNotify(nil, uint16(dbr.Double), 1, sid, 11))
	rd := c.next(t, protocol.CmdReadNotify)
	assert.Equal(t, uint32(11), rd.Header.Parameter2)
	assert.Equal(t, protocol.StatusNormal.Code(), rd.Header.Parameter1)
	assert.Equal(t, []float64{1.5}, floatsOf(t, rd))

	c.send(t, protocol.AppendWriteNotify(nil, mustFloats(t, dbr.Long, 42), sid, 12))
	wr := c.next(t, protocol.CmdWriteNotify)
	assert.Equal(t, uint32(12), wr.Header.Parameter2)
	assert.Equal(t, protocol.StatusNormal.Code(), wr.Header.Parameter1)

	got, err := dbr.Floats(pv.Value())
	require.NoError(t, err)
	assert.Equal(t, []float64{42}, got)
	t.Log("✅ 创建、读取、写入流程正确")
}

// TestServer_CreateUnknown 测试挂接失败返回 CreateChannelFailed
func TestServer_CreateUnknown(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := dialRaw(t, srv)

	c.send(t, protocol.AppendVersion(nil, 0, protocol.MinorRevision))
	c.next(t, protocol.CmdVersion)
	c.send(t, protocol.AppendCreateChannel(nil, "no:such", 3, protocol.MinorRevision))
	f := c.next(t, protocol.CmdCreateChannelFailed)
	assert.Equal(t, uint32(3), f.Header.Parameter1)
	t.Log("✅ 未知通道返回创建失败")
}

// TestServer_RequestVerification 测试 sid、类型与个数校验
func TestServer_RequestVerification(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	addPV(t, hooks, "test:wf", types.AccessReadWrite, 1, 2)
	c := dialRaw(t, srv)
	sid, _ := c.handshake(t, "test:wf", 1)

	c.send(t, protocol.AppendReadNotify(nil, uint16(dbr.Double), 1, sid+100, 1))
	f := c.next(t, protocol.CmdReadNotify)
	assert.Equal(t, protocol.StatusBadChID.Code(), f.Header.Parameter1)

	c.send(t, protocol.AppendReadNotify(nil, uint16(dbr.Double), 3, sid, 2))
	f = c.next(t, protocol.CmdReadNotify)
	assert.Equal(t, protocol.StatusBadCount.Code(), f.Header.Parameter1)

	c.send(t, protocol.AppendReadNotify(nil, 20, 1, sid, 3))
	f = c.next(t, protocol.CmdReadNotify)
	assert.Equal(t, protocol.StatusBadType.Code(), f.Header.Parameter1)
	t.Log("✅ 请求校验返回对应状态")
}

// TestServer_WriteAccessDenied 测试无写权限时返回异常
func TestServer_WriteAccessDenied(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	pv := addPV(t, hooks, "test:ro", types.AccessRead, 5)
	c := dialRaw(t, srv)
	sid, rights := c.handshake(t, "test:ro", 9)
	assert.Equal(t, uint32(types.AccessRead), rights)

	c.send(t, protocol.AppendWrite(nil, mustFloats(t, dbr.Double, 1), sid, 1))
	f := c.next(t, protocol.CmdError)
	assert.Equal(t, uint32(9), f.Header.Parameter1)
	assert.Equal(t, protocol.StatusNoWtAccess.Code(), f.Header.Parameter2)
	orig, ok, _ := protocol.ParseError(f.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.CmdWrite, orig.Command)

	got, err := dbr.Floats(pv.Value())
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, got)
	t.Log("✅ 无写权限时值不变并返回异常")
}

// TestServer_MonitorLifecycle 测试订阅首值、更新与取消确认
func TestServer_MonitorLifecycle(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	pv := addPV(t, hooks, "test:mon", types.AccessReadWrite, 1)
	c := dialRaw(t, srv)
	sid, _ := c.handshake(t, "test:mon", 2)

	c.send(t, protocol.AppendEventAdd(nil, uint16(dbr.Double), 1, sid, 30, types.MaskValue))
	first := c.next(t, protocol.CmdEventAdd)
	assert.Equal(t, uint32(30), first.Header.Parameter2)
	assert.Equal(t, []float64{1}, floatsOf(t, first))
	require.Equal(t, 1, pv.Subscribers())

	require.NoError(t, pv.Write(mustFloats(t, dbr.Double, 2)))
	upd := c.next(t, protocol.CmdEventAdd)
	assert.Equal(t, []float64{2}, floatsOf(t, upd))

	c.send(t, protocol.AppendEventCancel(nil, uint16(dbr.Double), 1, sid, 30))
	ack := c.next(t, protocol.CmdEventAdd)
	assert.Equal(t, uint32(30), ack.Header.Parameter2)
	assert.Zero(t, ack.Header.DataCount)
	assert.Empty(t, ack.Payload)
	assert.Equal(t, 0, pv.Subscribers())

	require.NoError(t, pv.Write(mustFloats(t, dbr.Double, 3)))
	c.quiet(t, 100*time.Millisecond)
	t.Log("✅ 订阅生命周期正确")
}

// TestServer_BadMask 测试空掩码订阅
func TestServer_BadMask(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	addPV(t, hooks, "test:mask", types.AccessReadWrite, 1)
	c := dialRaw(t, srv)
	sid, _ := c.handshake(t, "test:mask", 4)

	c.send(t, protocol.AppendEventAdd(nil, uint16(dbr.Double), 1, sid, 1, 0))
	f := c.next(t, protocol.CmdError)
	assert.Equal(t, protocol.StatusBadMask.Code(), f.Header.Parameter2)
	orig, ok, _ := protocol.ParseError(f.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.CmdEventAdd, orig.Command)
	t.Log("✅ 空掩码返回 BADMASK")
}

// TestServer_EventsOffOn 测试流控暂停时只保留最新值
func TestServer_EventsOffOn(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	pv := addPV(t, hooks, "test:flow", types.AccessReadWrite, 0)
	c := dialRaw(t, srv)
	sid, _ := c.handshake(t, "test:flow", 5)

	c.send(t, protocol.AppendEventAdd(nil, uint16(dbr.Double), 1, sid, 1, types.MaskValue))
	c.next(t, protocol.CmdEventAdd)

	c.send(t, protocol.AppendEventsOff(nil))
	// Echo 往返保证 EventsOff 已处理
	c.send(t, protocol.AppendEcho(nil))
	c.next(t, protocol.CmdEcho)

	for i := 1; i <= 3; i++ {
		require.NoError(t, pv.Write(mustFloats(t, dbr.Double, float64(i))))
	}
	c.quiet(t, 100*time.Millisecond)

	c.send(t, protocol.AppendEventsOn(nil))
	f := c.next(t, protocol.CmdEventAdd)
	assert.Equal(t, []float64{3}, floatsOf(t, f))
	c.quiet(t, 100*time.Millisecond)
	t.Log("✅ 恢复推送时只补发最新值")
}

// TestServer_ClearChannel 测试清除通道的回显与后续请求
func TestServer_ClearChannel(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	pv := addPV(t, hooks, "test:clr", types.AccessReadWrite, 1)
	c := dialRaw(t, srv)
	sid, _ := c.handshake(t, "test:clr", 6)

	c.send(t, protocol.AppendEventAdd(nil, uint16(dbr.Double), 1, sid, 1, types.MaskValue))
	c.next(t, protocol.CmdEventAdd)

	c.send(t, protocol.AppendClearChannel(nil, sid, 6))
	f := c.next(t, protocol.CmdClearChannel)
	assert.Equal(t, sid, f.Header.Parameter1)
	assert.Equal(t, uint32(6), f.Header.Parameter2)
	assert.Equal(t, 0, pv.Subscribers())

	c.send(t, protocol.AppendClearChannel(nil, sid, 6))
	e := c.next(t, protocol.CmdError)
	assert.Equal(t, protocol.StatusBadChID.Code(), e.Header.Parameter2)
	t.Log("✅ 清除通道后订阅注销且 sid 失效")
}

// TestServer_DisconnectReleasesMonitors 测试断开连接后注销订阅
func TestServer_DisconnectReleasesMonitors(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	pv := addPV(t, hooks, "test:disc", types.AccessReadWrite, 1)
	c := dialRaw(t, srv)
	sid, _ := c.handshake(t, "test:disc", 1)

	c.send(t, protocol.AppendEventAdd(nil, uint16(dbr.Double), 1, sid, 1, types.MaskAll))
	c.next(t, protocol.CmdEventAdd)
	require.Equal(t, 1, pv.Subscribers())

	require.NoError(t, c.conn.Close())
	require.Eventually(t, func() bool {
		return pv.Subscribers() == 0 && srv.Sessions() == 0
	}, testTimeout, 5*time.Millisecond)
	t.Log("✅ 断开后会话与订阅被回收")
}

// TestServer_OldClientRejected 测试过旧的客户端版本
func TestServer_OldClientRejected(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	addPV(t, hooks, "test:old", types.AccessReadWrite, 1)
	c := dialRaw(t, srv)

	c.send(t, protocol.AppendCreateChannel(nil, "test:old", 1, 2))
	f := c.next(t, protocol.CmdError)
	assert.Equal(t, protocol.StatusDefunct.Code(), f.Header.Parameter2)
	t.Log("✅ 过旧客户端收到 DEFUNCT")
}

// ============================================================================
//                              UDP 搜索
// ============================================================================

type searchClient struct {
	tr     *udp.Transport
	mu     sync.Mutex
	frames []protocol.Header
	minor  []uint16
}

func newSearchClient(t *testing.T) *searchClient {
	t.Helper()
	c := &searchClient{}
	tr, err := udp.Listen(context.Background(), "127.0.0.1:0", udp.DefaultOptions(), func(_ *net.UDPAddr, data []byte) {
		_ = wire.ForEach(data, func(f wire.Frame) error {
			c.mu.Lock()
			c.frames = append(c.frames, f.Header)
			if f.Header.Command == protocol.CmdSearch {
				c.minor = append(c.minor, protocol.ParseSearchResponseMinor(f.Payload))
			}
			c.mu.Unlock()
			return nil
		})
	})
	require.NoError(t, err)
	tr.Start()
	c.tr = tr
	t.Cleanup(func() { _ = tr.Close() })
	return c
}

func (c *searchClient) received() []protocol.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Header(nil), c.frames...)
}

func serverUDPAddr(srv *Context) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: srv.Port()}
}

// TestServer_SearchResponse 测试搜索应答与序号回显
func TestServer_SearchResponse(t *testing.T) {
	srv, hooks := newTestServer(t, nil)
	addPV(t, hooks, "test:found", types.AccessRead, 1)
	c := newSearchClient(t)

	b := protocol.AppendVersionSequence(nil, protocol.MinorRevision, 77)
	b = protocol.AppendSearch(b, "test:found", 21, protocol.SearchDontReply, protocol.MinorRevision)
	b = protocol.AppendSearch(b, "test:missing", 22, protocol.SearchDoReply, protocol.MinorRevision)
	b = protocol.AppendSearch(b, "test:silent", 23, protocol.SearchDontReply, protocol.MinorRevision)
	require.NoError(t, c.tr.Send(b, serverUDPAddr(srv)))

	require.Eventually(t, func() bool { return len(c.received()) >= 3 }, testTimeout, 5*time.Millisecond)
	frames := c.received()
	require.Len(t, frames, 3)

	assert.Equal(t, protocol.CmdVersion, frames[0].Command)
	assert.NotZero(t, frames[0].DataType&protocol.SequenceNumberValid)
	assert.Equal(t, uint32(77), frames[0].Parameter1)

	assert.Equal(t, protocol.CmdSearch, frames[1].Command)
	assert.Equal(t, uint16(srv.Port()), frames[1].DataType)
	assert.Equal(t, uint32(21), frames[1].Parameter2)
	assert.Equal(t, udp.IPv4ToUint32(net.IPv4(127, 0, 0, 1)), frames[1].Parameter1)
	assert.Equal(t, []uint16{protocol.MinorRevision}, c.minor)

	assert.Equal(t, protocol.CmdNotFound, frames[2].Command)
	assert.Equal(t, uint32(22), frames[2].Parameter1)
	t.Log("✅ 搜索应答携带序号、端口与 cid")
}

// TestServer_IgnoreAddrList 测试忽略列表中的来源
func TestServer_IgnoreAddrList(t *testing.T) {
	srv, hooks := newTestServer(t, func(cfg *Config) {
		cfg.IgnoreAddrList = []string{"127.0.0.1"}
	})
	addPV(t, hooks, "test:ignored", types.AccessRead, 1)
	c := newSearchClient(t)

	b := protocol.AppendSearch(nil, "test:ignored", 1, protocol.SearchDoReply, protocol.MinorRevision)
	require.NoError(t, c.tr.Send(b, serverUDPAddr(srv)))

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, c.received())
	t.Log("✅ 忽略列表中的来源不被应答")
}

// TestServer_DestroyIdempotent 测试重复销毁
func TestServer_DestroyIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterfaceAddr = "127.0.0.1"
	cfg.Port = 0
	cfg.AutoBeaconAddrList = false
	srv, err := New(cfg, NewDefaultServer(), Deps{})
	require.NoError(t, err)

	// 未启动也能销毁
	require.NoError(t, srv.Destroy())
	require.NoError(t, srv.Destroy())

	_, err = New(cfg, nil, Deps{})
	assert.ErrorIs(t, err, ErrNoHooks)
	t.Log("✅ 销毁幂等")
}
