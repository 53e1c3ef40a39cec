package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanaccess/internal/core/circuit"
	"github.com/dep2p/go-chanaccess/internal/core/registry"
	"github.com/dep2p/go-chanaccess/internal/core/search"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// ConnectionListener 连接状态监听器
type ConnectionListener func(types.ConnectionEvent)

// AccessRightsListener 访问权限监听器
type AccessRightsListener func(types.AccessRightsEvent)

// Channel 客户端通道
//
// 同名同优先级的通道在上下文内共享，每次 CreateChannel 增加一次引用，
// 每次 Close 减少一次，最后一个引用释放时真正销毁。
type Channel struct {
	ctx      *Context
	name     string
	priority types.Priority
	cid      uint32
	entry    *search.Entry

	mu            sync.Mutex
	state         types.ConnectionState
	refs          int
	circuit       *circuit.Circuit
	sid           uint32
	bound         bool
	createPending bool
	createTimer   *clock.Timer
	pendCreate    bool
	fieldType     uint16
	count         uint32
	rights        types.AccessRights
	reported      bool
	respondent    string

	listeners       []ConnectionListener
	rightsListeners []AccessRightsListener

	pending  map[uint32]request
	monitors map[uint32]*Monitor
}

var (
	_ search.Searcher = (*Channel)(nil)
	_ circuit.Owner   = (*Channel)(nil)
)

func newChannel(ctx *Context, name string, priority types.Priority, cid uint32) *Channel {
	return &Channel{
		ctx:        ctx,
		name:       name,
		priority:   priority,
		cid:        cid,
		entry:      search.NewEntry(),
		state:      types.StateNeverConnected,
		refs:       1,
		pendCreate: true,
		pending:    make(map[uint32]request),
		monitors:   make(map[uint32]*Monitor),
	}
}

// ============================================================================
//                              只读属性
// ============================================================================

// Name 通道名
func (ch *Channel) Name() string { return ch.name }

// Priority 通道优先级
func (ch *Channel) Priority() types.Priority { return ch.priority }

// CID 客户端通道 ID
func (ch *Channel) CID() uint32 { return ch.cid }

// State 当前连接状态
func (ch *Channel) State() types.ConnectionState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Connected 是否已连接
func (ch *Channel) Connected() bool { return ch.State() == types.StateConnected }

// AccessRights 当前访问权限
func (ch *Channel) AccessRights() types.AccessRights {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.rights
}

// FieldType 服务端本地类型，连接前为 0
func (ch *Channel) FieldType() uint16 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.fieldType
}

// ElementCount 服务端元素个数，连接前为 0
func (ch *Channel) ElementCount() uint32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.count
}

// HostName 当前服务端地址，未绑定电路时为空
func (ch *Channel) HostName() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.circuit == nil {
		return ""
	}
	return ch.circuit.RemoteAddr()
}

// Refs 引用计数
func (ch *Channel) Refs() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.refs
}

// AddConnectionListener 添加连接监听器
//
// 通道已连接时立即向新监听器投递一次已连接事件。
func (ch *Channel) AddConnectionListener(l ConnectionListener) {
	if l == nil {
		return
	}
	ch.mu.Lock()
	ch.listeners = append(ch.listeners, l)
	connected := ch.reported
	ev := types.ConnectionEvent{Channel: ch.name, Connected: true, State: ch.state}
	ch.mu.Unlock()
	if connected {
		ch.ctx.dispatcher.Dispatch(func() { l(ev) })
	}
}

// OnAccessRights 添加访问权限监听器
func (ch *Channel) OnAccessRights(l AccessRightsListener) {
	if l == nil {
		return
	}
	ch.mu.Lock()
	ch.rightsListeners = append(ch.rightsListeners, l)
	ch.mu.Unlock()
}

// ============================================================================
//                              注册表与搜索接口
// ============================================================================

// Retain 增加引用；已关闭或最后一次引用已释放时返回 false
func (ch *Channel) Retain() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state == types.StateClosed || ch.refs <= 0 {
		return false
	}
	ch.refs++
	return true
}

// SearchName 实现 search.Searcher
func (ch *Channel) SearchName() string { return ch.name }

// SearchCID 实现 search.Searcher
func (ch *Channel) SearchCID() uint32 { return ch.cid }

// SearchEntry 实现 search.Searcher
func (ch *Channel) SearchEntry() *search.Entry { return ch.entry }

func (ch *Channel) key() registry.ChannelKey {
	return registry.ChannelKey{Name: ch.name, Priority: ch.priority}
}

// initiateSearch 进入搜索调度
func (ch *Channel) initiateSearch() {
	if ch.ctx.destroyed.Load() {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state == types.StateClosed {
		return
	}
	ch.ctx.scheduler.Register(ch)
}

// ============================================================================
//                              状态迁移
// ============================================================================

// searchResponse 收到搜索响应
func (ch *Channel) searchResponse(addr string, minor uint16) {
	ch.mu.Lock()
	if ch.state == types.StateClosed {
		ch.mu.Unlock()
		return
	}
	if c := ch.circuit; c != nil && !c.Closed() {
		if c.RemoteAddr() != addr {
			logger.Warn("多个服务端提供同名通道，忽略后来者",
				"channel", ch.name, "first", c.RemoteAddr(), "ignored", addr,
				"status", protocol.StatusDoubleChan.Name)
		}
		ch.mu.Unlock()
		return
	}
	ch.respondent = addr
	ch.mu.Unlock()

	go ch.ctx.connect(ch, addr, minor)
}

// duplicateResponse 记录另一个服务端对同一搜索的应答
//
// 已接受的应答来自 addr 以外的服务端时记录 DBLCHNL 并返回 true。
func (ch *Channel) duplicateResponse(addr string) bool {
	ch.mu.Lock()
	first := ch.respondent
	if c := ch.circuit; c != nil && !c.Closed() {
		first = c.RemoteAddr()
	}
	ch.mu.Unlock()
	if first == "" || first == addr {
		return false
	}
	logger.Warn("多个服务端提供同名通道，忽略后来者",
		"channel", ch.name, "first", first, "ignored", addr,
		"status", protocol.StatusDoubleChan.Name)
	return true
}

// circuitAssigned 绑定电路并发送创建请求
//
// 返回 false 表示通道未接纳该电路。
func (ch *Channel) circuitAssigned(c *circuit.Circuit) bool {
	ch.mu.Lock()
	if ch.state == types.StateClosed {
		ch.mu.Unlock()
		return false
	}
	old := ch.circuit
	if old == c && (ch.createPending || ch.bound) {
		ch.mu.Unlock()
		return true
	}
	if old != nil && !old.Closed() && (ch.createPending || ch.bound) {
		ch.mu.Unlock()
		logger.Warn("多个服务端提供同名通道，忽略后来者",
			"channel", ch.name, "first", old.RemoteAddr(), "ignored", c.RemoteAddr(),
			"status", protocol.StatusDoubleChan.Name)
		return false
	}
	if !c.AddOwner(ch) {
		ch.mu.Unlock()
		return false
	}
	ch.circuit = c
	ch.createPending = true
	ch.bound = false
	ch.stopCreateTimerLocked()
	ch.createTimer = ch.ctx.clock.AfterFunc(ch.ctx.cfg.CreateTimeout, func() { ch.createTimedOut(c) })
	ch.mu.Unlock()

	if old != nil && old != c {
		old.Release(ch)
	}

	msg := protocol.AppendCreateChannel(nil, ch.name, ch.cid, protocol.MinorRevision)
	if err := c.SendAndFlush(msg); err != nil {
		logger.Debug("发送创建通道请求失败", "channel", ch.name, "remote", c.RemoteAddr(), "err", err)
		ch.detach(c, err, true)
	}
	return true
}

// createConfirmed 服务端确认创建
func (ch *Channel) createConfirmed(c *circuit.Circuit, sid uint32, fieldType uint16, count uint32) {
	ch.mu.Lock()
	if ch.state == types.StateClosed || ch.circuit != c || !ch.createPending {
		ch.mu.Unlock()
		return
	}
	ch.stopCreateTimerLocked()
	ch.createPending = false
	ch.bound = true
	ch.sid = sid
	ch.fieldType = fieldType
	ch.count = count
	ch.ctx.scheduler.Unregister(ch)
	monitors := make([]*Monitor, 0, len(ch.monitors))
	for _, m := range ch.monitors {
		monitors = append(monitors, m)
	}
	ch.state = types.StateConnected
	pend := ch.pendCreate
	ch.pendCreate = false
	ch.mu.Unlock()

	// 订阅先于连接通知重放
	for _, m := range monitors {
		if err := c.Send(m.eventAdd(sid)); err != nil {
			logger.Debug("重放订阅失败", "channel", ch.name, "subid", m.subid, "err", err)
		}
	}
	if len(monitors) > 0 {
		c.Flush()
	}

	logger.Debug("通道已连接", "channel", ch.name, "remote", c.RemoteAddr(), "sid", sid)
	if pend {
		ch.ctx.pend.done()
	}
	ch.report()
}

// setAccessRights 更新访问权限
func (ch *Channel) setAccessRights(c *circuit.Circuit, rights types.AccessRights) {
	ch.mu.Lock()
	if ch.circuit != c || ch.rights == rights {
		ch.mu.Unlock()
		return
	}
	ch.rights = rights
	ls := append([]AccessRightsListener(nil), ch.rightsListeners...)
	ch.mu.Unlock()

	ev := types.AccessRightsEvent{Channel: ch.name, Rights: rights}
	for _, l := range ls {
		l := l
		ch.ctx.dispatcher.Dispatch(func() { l(ev) })
	}
}

func (ch *Channel) createTimedOut(c *circuit.Circuit) {
	ch.mu.Lock()
	pending := ch.circuit == c && ch.createPending
	ch.mu.Unlock()
	if !pending {
		return
	}
	logger.Debug("创建通道超时", "channel", ch.name, "remote", c.RemoteAddr())
	ch.detach(c, protocol.StatusTimeout, true)
}

// detach 与电路解绑并重新搜索
//
// release 为 false 时电路已自行清空所有者（传输关闭路径）。
func (ch *Channel) detach(c *circuit.Circuit, reason error, release bool) {
	ch.mu.Lock()
	if ch.state == types.StateClosed || ch.circuit != c {
		ch.mu.Unlock()
		return
	}
	ch.stopCreateTimerLocked()
	ch.circuit = nil
	ch.createPending = false
	ch.bound = false
	ch.rights = 0
	if ch.state == types.StateConnected {
		ch.state = types.StateDisconnected
	}
	reqs := ch.takePendingLocked()
	ch.mu.Unlock()

	if release {
		c.Release(ch)
	}
	ch.failRequests(reqs, protocol.StatusDisconn)
	logger.Debug("通道与电路解绑", "channel", ch.name, "remote", c.RemoteAddr(), "reason", reason)
	ch.report()
	ch.initiateSearch()
}

// TransportClosed 实现 circuit.Owner
func (ch *Channel) TransportClosed(c *circuit.Circuit) {
	ch.detach(c, protocol.StatusDisconn, false)
}

// TransportUnresponsive 实现 circuit.Owner
func (ch *Channel) TransportUnresponsive(c *circuit.Circuit) {
	ch.mu.Lock()
	if ch.circuit != c || ch.state != types.StateConnected {
		ch.mu.Unlock()
		return
	}
	ch.state = types.StateDisconnected
	ch.mu.Unlock()
	ch.report()
}

// TransportResponsive 实现 circuit.Owner
func (ch *Channel) TransportResponsive(c *circuit.Circuit) {
	ch.mu.Lock()
	if ch.circuit != c || !ch.bound || ch.state != types.StateDisconnected {
		ch.mu.Unlock()
		return
	}
	ch.state = types.StateConnected
	ch.mu.Unlock()
	ch.report()
}

// report 连接性翻转时通知监听器，同一连接性只报告一次
func (ch *Channel) report() {
	ch.mu.Lock()
	connected := ch.state == types.StateConnected
	if connected == ch.reported {
		ch.mu.Unlock()
		return
	}
	ch.reported = connected
	ev := types.ConnectionEvent{Channel: ch.name, Connected: connected, State: ch.state}
	ls := append([]ConnectionListener(nil), ch.listeners...)
	ch.mu.Unlock()

	for _, l := range ls {
		l := l
		ch.ctx.dispatcher.Dispatch(func() { l(ev) })
	}
}

func (ch *Channel) stopCreateTimerLocked() {
	if ch.createTimer != nil {
		ch.createTimer.Stop()
		ch.createTimer = nil
	}
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 释放一次引用，最后一次释放时销毁通道
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.state == types.StateClosed {
		ch.mu.Unlock()
		return nil
	}
	ch.refs--
	if ch.refs > 0 {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()
	return ch.destroy()
}

// destroy 销毁通道
func (ch *Channel) destroy() error {
	ch.mu.Lock()
	if ch.state == types.StateClosed {
		ch.mu.Unlock()
		return nil
	}
	c, sid, bound := ch.circuit, ch.sid, ch.bound
	ch.state = types.StateClosed
	ch.refs = 0
	ch.circuit = nil
	ch.bound = false
	ch.createPending = false
	ch.stopCreateTimerLocked()
	ch.ctx.scheduler.Unregister(ch)
	reqs := ch.takePendingLocked()
	monitors := ch.monitors
	ch.monitors = make(map[uint32]*Monitor)
	pend := ch.pendCreate
	ch.pendCreate = false
	ch.mu.Unlock()

	ch.ctx.channels.Remove(ch.key(), ch)
	ch.ctx.cids.Release(ch.cid)

	ch.failRequests(reqs, protocol.StatusChanDestroy)
	for id, m := range monitors {
		ch.ctx.requests.Release(id)
		m.fail(protocol.StatusChanDestroy)
	}

	if c != nil {
		if bound {
			if err := c.SendAndFlush(protocol.AppendClearChannel(nil, sid, ch.cid)); err != nil {
				logger.Debug("发送清除通道失败", "channel", ch.name, "err", err)
			}
		}
		c.Release(ch)
	}
	if pend {
		ch.ctx.pend.done()
	}
	logger.Debug("通道已销毁", "channel", ch.name, "cid", ch.cid)
	ch.report()
	return nil
}

// ============================================================================
//                              请求簿记
// ============================================================================

func (ch *Channel) takePendingLocked() map[uint32]request {
	reqs := ch.pending
	ch.pending = make(map[uint32]request)
	return reqs
}

// failRequests 以 err 结束请求；与回复竞争时只有赢得 ID 的一方生效
func (ch *Channel) failRequests(reqs map[uint32]request, err error) {
	for id := range reqs {
		if r, ok := ch.ctx.requests.Release(id); ok {
			r.fail(err)
		}
	}
}

// forget 从通道的未完成表移除
func (ch *Channel) forget(id uint32) {
	ch.mu.Lock()
	delete(ch.pending, id)
	ch.mu.Unlock()
}

// abort 撤销已预留但发送失败或被调用方放弃的请求，不调用回调
func (ch *Channel) abort(id uint32) {
	ch.forget(id)
	r, ok := ch.ctx.requests.Release(id)
	if !ok {
		return
	}
	ch.ctx.metrics.RequestFinished()
	if g, ok := r.(*getRequest); ok && g.pend {
		ch.ctx.pend.done()
	}
}

// connectedLocked 返回已连接的电路与 sid
func (ch *Channel) connectedLocked() (*circuit.Circuit, uint32, error) {
	switch {
	case ch.state == types.StateClosed:
		return nil, 0, ErrChannelClosed
	case ch.state != types.StateConnected || ch.circuit == nil || !ch.bound:
		return nil, 0, ErrNotConnected
	}
	return ch.circuit, ch.sid, nil
}

// reserve 登记请求并返回电路与 sid
func (ch *Channel) reserve(r request, needRead, needWrite bool) (*circuit.Circuit, uint32, uint32, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	c, sid, err := ch.connectedLocked()
	if err != nil {
		return nil, 0, 0, err
	}
	if needRead && !ch.rights.CanRead() {
		return nil, 0, 0, ErrNoReadAccess
	}
	if needWrite && !ch.rights.CanWrite() {
		return nil, 0, 0, ErrNoWriteAccess
	}
	id, err := ch.ctx.requests.Reserve(r)
	if err != nil {
		return nil, 0, 0, err
	}
	ch.pending[id] = r
	return c, sid, id, nil
}

// ============================================================================
//                              读取
// ============================================================================

// GetAsync 异步读取，回调经分发器调用
//
// count 为 0 时使用服务端元素个数。请求计入 PendIO。
func (ch *Channel) GetAsync(dataType uint16, count uint32, cb func(types.Value, error)) error {
	_, err := ch.get(dataType, count, cb, true)
	return err
}

// Get 同步读取
func (ch *Channel) Get(ctx context.Context, dataType uint16, count uint32) (types.Value, error) {
	type result struct {
		v   types.Value
		err error
	}
	res := make(chan result, 1)
	id, err := ch.get(dataType, count, func(v types.Value, err error) { res <- result{v, err} }, false)
	if err != nil {
		return types.Value{}, err
	}
	select {
	case r := <-res:
		return r.v, r.err
	case <-ctx.Done():
		ch.abort(id)
		return types.Value{}, ctx.Err()
	}
}

func (ch *Channel) get(dataType uint16, count uint32, cb func(types.Value, error), pend bool) (uint32, error) {
	if cb == nil {
		return 0, fmt.Errorf("client: get %s: %w", ch.name, protocol.StatusBadFuncPtr)
	}
	if count == 0 {
		count = ch.ElementCount()
	}
	r := &getRequest{ch: ch, dataType: dataType, count: count, cb: cb, pend: pend}
	c, sid, id, err := ch.reserve(r, true, false)
	if err != nil {
		return 0, err
	}
	if pend {
		ch.ctx.pend.add()
	}
	ch.ctx.metrics.RequestStarted()
	if err := c.SendAndFlush(protocol.AppendReadNotify(nil, dataType, count, sid, id)); err != nil {
		ch.abort(id)
		return 0, err
	}
	return id, nil
}

// ============================================================================
//                              写入
// ============================================================================

// Put 写入，不等待确认
func (ch *Channel) Put(v types.Value) error {
	ch.mu.Lock()
	c, sid, err := ch.connectedLocked()
	if err == nil && !ch.rights.CanWrite() {
		err = ErrNoWriteAccess
	}
	ch.mu.Unlock()
	if err != nil {
		return err
	}
	return c.SendAndFlush(protocol.AppendWrite(nil, v, sid, ch.cid))
}

// PutAsync 带完成回调的写入
func (ch *Channel) PutAsync(v types.Value, cb func(error)) error {
	_, err := ch.putNotify(v, cb)
	return err
}

// PutWait 写入并等待服务端确认
func (ch *Channel) PutWait(ctx context.Context, v types.Value) error {
	res := make(chan error, 1)
	id, err := ch.putNotify(v, func(err error) { res <- err })
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		ch.abort(id)
		return ctx.Err()
	}
}

func (ch *Channel) putNotify(v types.Value, cb func(error)) (uint32, error) {
	if cb == nil {
		return 0, fmt.Errorf("client: put %s: %w", ch.name, protocol.StatusBadFuncPtr)
	}
	r := &putRequest{ch: ch, cb: cb}
	c, sid, id, err := ch.reserve(r, false, true)
	if err != nil {
		return 0, err
	}
	ch.ctx.metrics.RequestStarted()
	if err := c.SendAndFlush(protocol.AppendWriteNotify(nil, v, sid, id)); err != nil {
		ch.abort(id)
		return 0, err
	}
	return id, nil
}

// ============================================================================
//                              订阅
// ============================================================================

// Subscribe 订阅值变化
//
// 未连接时先登记，连接后自动发送。count 为 0 时由服务端决定元素个数。
func (ch *Channel) Subscribe(dataType uint16, count uint32, mask types.MonitorMask, cb func(types.MonitorEvent)) (*Monitor, error) {
	if !mask.Valid() {
		return nil, fmt.Errorf("client: subscribe %s: %w", ch.name, protocol.StatusBadMask)
	}
	if cb == nil {
		return nil, fmt.Errorf("client: subscribe %s: %w", ch.name, protocol.StatusBadFuncPtr)
	}
	m := &Monitor{ch: ch, dataType: dataType, count: count, mask: mask, cb: cb}

	ch.mu.Lock()
	if ch.state == types.StateClosed {
		ch.mu.Unlock()
		return nil, ErrChannelClosed
	}
	id, err := ch.ctx.requests.Reserve(m)
	if err != nil {
		ch.mu.Unlock()
		return nil, err
	}
	m.subid = id
	ch.monitors[id] = m
	c, sid, cerr := ch.connectedLocked()
	ch.mu.Unlock()

	if cerr == nil {
		if err := c.SendAndFlush(m.eventAdd(sid)); err != nil {
			logger.Debug("发送订阅失败，重连后重放", "channel", ch.name, "subid", id, "err", err)
		}
	}
	return m, nil
}

// clearMonitor 取消订阅并立即释放 subid
func (ch *Channel) clearMonitor(m *Monitor) error {
	ch.mu.Lock()
	if _, ok := ch.monitors[m.subid]; !ok {
		ch.mu.Unlock()
		return nil
	}
	delete(ch.monitors, m.subid)
	c, sid, err := ch.connectedLocked()
	ch.mu.Unlock()

	ch.ctx.requests.Release(m.subid)
	if err != nil {
		return nil
	}
	return c.SendAndFlush(protocol.AppendEventCancel(nil, m.dataType, m.count, sid, m.subid))
}

// dropMonitor 服务端拒绝订阅
func (ch *Channel) dropMonitor(m *Monitor, err error) {
	ch.mu.Lock()
	delete(ch.monitors, m.subid)
	ch.mu.Unlock()
	ch.ctx.requests.Release(m.subid)
	m.fail(err)
}

// Monitors 当前订阅数
func (ch *Channel) Monitors() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.monitors)
}
