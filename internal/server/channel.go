package server

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// serverChannel 会话内的一个通道
type serverChannel struct {
	sess   *session
	sid    uint32
	cid    uint32
	pv     interfaces.ProcessVariable
	rights types.AccessRights

	mu       sync.Mutex
	monitors map[uint32]*serverMonitor
	closed   bool
}

// read 读取并转换为请求的类型
func (ch *serverChannel) read(dataType uint16, count uint32) (types.Value, error) {
	v, err := ch.pv.Read(dataType, count)
	if err != nil {
		return types.Value{}, err
	}
	if v.Type == dataType && (count == 0 || v.Count == count) {
		return v, nil
	}
	return dbr.Convert(v, dbr.Type(dataType), count)
}

func (ch *serverChannel) addMonitor(m *serverMonitor) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return false
	}
	if _, dup := ch.monitors[m.subid]; dup {
		return false
	}
	ch.monitors[m.subid] = m
	return true
}

func (ch *serverChannel) removeMonitor(subid uint32) (*serverMonitor, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	m, ok := ch.monitors[subid]
	if ok {
		delete(ch.monitors, subid)
	}
	return m, ok
}

func (ch *serverChannel) monitorList() []*serverMonitor {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]*serverMonitor, 0, len(ch.monitors))
	for _, m := range ch.monitors {
		out = append(out, m)
	}
	return out
}

// destroy 注销全部订阅
func (ch *serverChannel) destroy() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	monitors := ch.monitors
	ch.monitors = nil
	ch.mu.Unlock()
	for _, m := range monitors {
		m.cancel()
	}
}

// ============================================================================
//                              服务端订阅
// ============================================================================

// serverMonitor 一个客户端订阅，作为过程变量的事件接收者
type serverMonitor struct {
	sess     *session
	ch       *serverChannel
	subid    uint32
	dataType uint16
	count    uint32
	mask     types.MonitorMask

	unregister func()
	cancelled  atomic.Bool

	mu   sync.Mutex
	held []byte
}

var _ interfaces.EventSink = (*serverMonitor)(nil)

// Post 实现 interfaces.EventSink
func (m *serverMonitor) Post(v types.Value, mask types.MonitorMask) {
	if mask&m.mask == 0 || m.cancelled.Load() {
		return
	}
	out, err := dbr.Convert(v, dbr.Type(m.dataType), m.count)
	if err != nil {
		m.postStatus(protocol.AsStatus(err, protocol.StatusNoConvert))
		return
	}
	m.post(out)
}

func (m *serverMonitor) post(v types.Value) {
	m.deliver(protocol.AppendEventAddResponse(nil, v, protocol.StatusNormal, m.subid))
}

func (m *serverMonitor) postStatus(st *protocol.Status) {
	v := types.Value{Type: m.dataType, Count: nonZero(m.count)}
	m.deliver(protocol.AppendEventAddResponse(nil, v, st, m.subid))
}

// deliver 推送暂停时只保留最新一帧
func (m *serverMonitor) deliver(frame []byte) {
	if m.cancelled.Load() {
		return
	}
	if m.sess.suspended() {
		m.mu.Lock()
		m.held = frame
		m.mu.Unlock()
		return
	}
	m.sess.send(frame)
}

// flushHeld 发送暂停期间保留的最新值
func (m *serverMonitor) flushHeld() {
	m.mu.Lock()
	frame := m.held
	m.held = nil
	m.mu.Unlock()
	if frame != nil && !m.cancelled.Load() {
		m.sess.send(frame)
	}
}

// setUnregister 记录注销函数；已取消时立即注销
func (m *serverMonitor) setUnregister(fn func()) {
	var once sync.Once
	unregister := func() { once.Do(fn) }
	m.mu.Lock()
	m.unregister = unregister
	m.mu.Unlock()
	if m.cancelled.Load() {
		unregister()
	}
}

func (m *serverMonitor) cancel() {
	if m.cancelled.Swap(true) {
		return
	}
	m.mu.Lock()
	fn := m.unregister
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}
