package client

import (
	"sync/atomic"

	"github.com/dep2p/go-chanaccess/internal/core/wire"
	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// request 未完成请求
//
// 请求在发送前从上下文的 ID 表中预留 ioid；回复与取消通过 Table.Release
// 竞争，只有获胜的一方调用 complete 或 fail。
type request interface {
	channel() *Channel
	// complete 处理回复帧，在电路读协程上调用
	complete(f wire.Frame)
	// fail 以错误结束请求
	fail(err error)
}

// ============================================================================
//                              读取
// ============================================================================

type getRequest struct {
	ch       *Channel
	dataType uint16
	count    uint32
	cb       func(types.Value, error)
	pend     bool
}

func (r *getRequest) channel() *Channel { return r.ch }

func (r *getRequest) complete(f wire.Frame) {
	st := protocol.StatusForCode(f.Header.Parameter1)
	if !st.Successful() {
		r.finish(types.Value{}, st)
		return
	}
	r.finish(valueFromFrame(f), nil)
}

func (r *getRequest) fail(err error) { r.finish(types.Value{}, err) }

func (r *getRequest) finish(v types.Value, err error) {
	ctx := r.ch.ctx
	ctx.metrics.RequestFinished()
	if err != nil {
		err = &RequestError{Op: "get", Channel: r.ch.name, Err: err}
	}
	cb := r.cb
	ctx.dispatcher.Dispatch(func() { cb(v, err) })
	if r.pend {
		ctx.pend.done()
	}
}

// ============================================================================
//                              写入
// ============================================================================

type putRequest struct {
	ch *Channel
	cb func(error)
}

func (r *putRequest) channel() *Channel { return r.ch }

func (r *putRequest) complete(f wire.Frame) {
	st := protocol.StatusForCode(f.Header.Parameter1)
	if !st.Successful() {
		r.fail(st)
		return
	}
	r.finish(nil)
}

func (r *putRequest) fail(err error) {
	r.finish(&RequestError{Op: "put", Channel: r.ch.name, Err: err})
}

func (r *putRequest) finish(err error) {
	r.ch.ctx.metrics.RequestFinished()
	cb := r.cb
	r.ch.ctx.dispatcher.Dispatch(func() { cb(err) })
}

// ============================================================================
//                              订阅
// ============================================================================

// Monitor 订阅
//
// 订阅在通道重新连接后自动重放，直到 Clear 或通道关闭。
type Monitor struct {
	ch       *Channel
	subid    uint32
	dataType uint16
	count    uint32
	mask     types.MonitorMask
	cb       func(types.MonitorEvent)
	cleared  atomic.Bool
}

func (m *Monitor) channel() *Channel { return m.ch }

func (m *Monitor) complete(f wire.Frame) {
	if m.cleared.Load() {
		return
	}
	// 空负载且个数为 0 是取消确认
	if len(f.Payload) == 0 && f.Header.DataCount == 0 {
		return
	}
	st := protocol.StatusForCode(f.Header.Parameter1)
	ev := types.MonitorEvent{Channel: m.ch.name}
	if st.Successful() {
		ev.Value = valueFromFrame(f)
	} else {
		ev.Status = st
	}
	m.post(ev)
}

func (m *Monitor) fail(err error) {
	if m.cleared.Swap(true) {
		return
	}
	m.post(types.MonitorEvent{Channel: m.ch.name, Status: err})
}

func (m *Monitor) post(ev types.MonitorEvent) {
	cb := m.cb
	m.ch.ctx.dispatcher.Dispatch(func() { cb(ev) })
}

// ID 订阅 ID
func (m *Monitor) ID() uint32 { return m.subid }

// Mask 事件掩码
func (m *Monitor) Mask() types.MonitorMask { return m.mask }

// Clear 取消订阅
func (m *Monitor) Clear() error {
	if m.cleared.Swap(true) {
		return nil
	}
	return m.ch.clearMonitor(m)
}

// eventAdd 订阅请求帧
func (m *Monitor) eventAdd(sid uint32) []byte {
	return protocol.AppendEventAdd(nil, m.dataType, m.count, sid, m.subid, m.mask)
}

// valueFromFrame 从回复帧构造值，普通类型按元素大小截掉对齐填充
func valueFromFrame(f wire.Frame) types.Value {
	data := f.Payload
	if t := dbr.Type(f.Header.DataType); t.Plain() {
		if n := int(f.Header.DataCount) * t.ElementSize(); n <= len(data) {
			data = data[:n]
		}
	}
	return types.Value{Type: f.Header.DataType, Count: f.Header.DataCount, Data: data}.Clone()
}
