package server

import (
	"fmt"
	"net"
	"sync"

	"github.com/dep2p/go-chanaccess/internal/core/circuit"
	"github.com/dep2p/go-chanaccess/internal/core/registry"
	"github.com/dep2p/go-chanaccess/internal/core/wire"
	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// 创建通道请求中 p2 不小于该值时视为未携带次版本
const noMinorInCreate = 0xFFFF

// session 一个 TCP 客户端会话
type session struct {
	srv    *Context
	circ   *circuit.Circuit
	remote net.Addr

	mu        sync.Mutex
	user      string
	host      string
	priority  types.Priority
	minor     uint16
	eventsOff bool
	closed    bool

	channels *registry.Table[*serverChannel]
}

var (
	_ circuit.Owner   = (*session)(nil)
	_ circuit.Handler = (*session)(nil)
)

func newSession(srv *Context, remote net.Addr) *session {
	return &session{
		srv:      srv,
		remote:   remote,
		channels: registry.NewTable[*serverChannel](),
	}
}

func (s *session) info() interfaces.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return interfaces.ClientInfo{
		Addr:     s.remote,
		User:     s.user,
		Host:     s.host,
		Priority: s.priority,
		Minor:    s.minor,
	}
}

func (s *session) channelCount() int { return s.channels.Len() }

// send 发送并刷新；失败只记录，电路关闭会清理会话
func (s *session) send(frame []byte) {
	if err := s.circ.SendAndFlush(frame); err != nil {
		logger.Debug("发送失败", "remote", s.remote.String(), "err", err)
	}
}

// sendException 发送异常帧
func (s *session) sendException(cid uint32, st *protocol.Status, orig protocol.Header, msg string) {
	s.send(protocol.AppendError(nil, cid, st, orig, msg))
}

// ============================================================================
//                              所有者回调
// ============================================================================

// TransportClosed 实现 circuit.Owner：销毁会话的全部通道
func (s *session) TransportClosed(*circuit.Circuit) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for sid, ch := range s.channels.Snapshot() {
		s.channels.Release(sid)
		ch.destroy()
	}
	logger.Debug("客户端会话结束", "remote", s.remote.String())
}

// TransportUnresponsive 实现 circuit.Owner；服务端不运行看门狗
func (s *session) TransportUnresponsive(*circuit.Circuit) {}

// TransportResponsive 实现 circuit.Owner
func (s *session) TransportResponsive(*circuit.Circuit) {}

// ============================================================================
//                              帧处理
// ============================================================================

// HandleFrame 实现 circuit.Handler
func (s *session) HandleFrame(c *circuit.Circuit, f wire.Frame) error {
	h := f.Header
	switch h.Command {
	case protocol.CmdVersion:
		s.mu.Lock()
		s.priority = types.Priority(h.DataType)
		s.minor = uint16(h.DataCount)
		s.mu.Unlock()
		c.SetRemoteMinor(uint16(h.DataCount))
		s.send(protocol.AppendVersion(nil, 0, protocol.MinorRevision))

	case protocol.CmdClientName:
		s.mu.Lock()
		s.user = protocol.ExtractString(f.Payload)
		s.mu.Unlock()

	case protocol.CmdHostName:
		s.mu.Lock()
		s.host = protocol.ExtractString(f.Payload)
		s.mu.Unlock()

	case protocol.CmdCreateChannel:
		s.createChannel(f)

	case protocol.CmdReadNotify:
		s.readNotify(f)

	case protocol.CmdWrite:
		s.write(f)

	case protocol.CmdWriteNotify:
		s.writeNotify(f)

	case protocol.CmdEventAdd:
		s.eventAdd(f)

	case protocol.CmdEventCancel:
		s.eventCancel(f)

	case protocol.CmdClearChannel:
		s.clearChannel(f)

	case protocol.CmdEcho:
		s.send(protocol.AppendEcho(nil))

	case protocol.CmdEventsOff:
		s.setEventsOff(true)

	case protocol.CmdEventsOn:
		s.setEventsOff(false)

	case protocol.CmdReadSync, protocol.CmdRead, protocol.CmdSnapshot, protocol.CmdBuild,
		protocol.CmdReadBuild, protocol.CmdSignal, protocol.CmdSearch:
		logger.Debug("忽略过时或不支持的命令", "remote", s.remote.String(), "cmd", h.Command.String())

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedCommand, h.Command)
	}
	return nil
}

// ============================================================================
//                              通道
// ============================================================================

func (s *session) createChannel(f wire.Frame) {
	h := f.Header
	cid := h.Parameter1
	minor := uint16(0)
	if h.Parameter2 < noMinorInCreate {
		minor = uint16(h.Parameter2)
	}
	s.mu.Lock()
	s.minor = minor
	s.mu.Unlock()
	s.circ.SetRemoteMinor(minor)

	if minor < minSearchMinor {
		s.sendException(cid, protocol.StatusDefunct, h, "connect sequence from old client was ignored")
		s.circ.CloseAsync(false)
		return
	}
	name := protocol.ExtractString(f.Payload)
	if !protocol.ReasonableServerName(name) {
		logger.Warn("通道名不合理，断开客户端", "remote", s.remote.String(), "len", len(name))
		s.circ.CloseAsync(true)
		return
	}

	info := s.info()
	pv, err := s.srv.hooks.ProcessVariableAttach(name, info)
	if err == nil && pv == nil {
		err = protocol.StatusDefunct
	}
	if err == nil && !dbr.Type(pv.NativeType()).Plain() {
		err = fmt.Errorf("%w: %w", protocol.StatusBadType, ErrNotPlain)
	}
	if err != nil {
		logger.Debug("挂接过程变量失败", "channel", name, "remote", s.remote.String(), "err", err)
		s.createFailed(h, cid, protocol.AsStatus(err, protocol.StatusDefunct), err.Error())
		return
	}

	ch := &serverChannel{sess: s, cid: cid, pv: pv, rights: pv.AccessRights(info),
		monitors: make(map[uint32]*serverMonitor)}
	sid, err := s.channels.ReserveWith(func(sid uint32) *serverChannel {
		ch.sid = sid
		return ch
	})
	if err != nil {
		s.createFailed(h, cid, protocol.StatusAllocMem, err.Error())
		return
	}

	b := protocol.AppendAccessRights(nil, cid, ch.rights)
	b = protocol.AppendCreateChannelResponse(b, pv.NativeType(), pv.NativeCount(), cid, sid)
	s.send(b)
	logger.Debug("通道已创建", "channel", name, "remote", s.remote.String(), "sid", sid)
}

func (s *session) createFailed(orig protocol.Header, cid uint32, st *protocol.Status, msg string) {
	if s.circ.RemoteMinor() >= 6 {
		s.send(protocol.AppendCreateChannelFailed(nil, cid))
		return
	}
	s.sendException(cid, st, orig, msg)
}

// channel 按 sid 取通道并校验请求类型与个数
func (s *session) channel(h protocol.Header) (*serverChannel, *protocol.Status) {
	ch, ok := s.channels.Get(h.Parameter1)
	if !ok {
		return nil, protocol.StatusBadChID
	}
	if !dbr.Type(h.DataType).Plain() {
		return ch, protocol.StatusBadType
	}
	if h.DataCount > ch.pv.NativeCount() {
		return ch, protocol.StatusBadCount
	}
	return ch, nil
}

func cidOf(ch *serverChannel) uint32 {
	if ch == nil {
		return 0
	}
	return ch.cid
}

func (s *session) clearChannel(f wire.Frame) {
	h := f.Header
	ch, ok := s.channels.Release(h.Parameter1)
	if !ok {
		s.sendException(h.Parameter1, protocol.StatusBadChID, h, "")
		return
	}
	ch.destroy()
	s.send(protocol.AppendClearChannel(nil, h.Parameter1, h.Parameter2))
}

// ============================================================================
//                              读写
// ============================================================================

func (s *session) readNotify(f wire.Frame) {
	h := f.Header
	ioid := h.Parameter2
	fail := func(st *protocol.Status) {
		s.send(protocol.AppendReadNotifyResponse(nil,
			types.Value{Type: h.DataType, Count: h.DataCount}, st, ioid))
	}

	ch, st := s.channel(h)
	if st != nil {
		fail(st)
		return
	}
	if !ch.rights.CanRead() {
		fail(protocol.StatusNoRdAccess)
		return
	}
	v, err := ch.read(h.DataType, h.DataCount)
	if err != nil {
		fail(protocol.AsStatus(err, protocol.StatusGetFail))
		return
	}
	s.send(protocol.AppendReadNotifyResponse(nil, v, protocol.StatusNormal, ioid))
}

func (s *session) write(f wire.Frame) {
	h := f.Header
	ch, st := s.channel(h)
	if st != nil {
		s.sendException(cidOf(ch), st, h, "write request")
		return
	}
	if !ch.rights.CanWrite() {
		s.sendException(ch.cid, protocol.StatusNoWtAccess, h, "write access denied")
		return
	}
	if err := ch.pv.Write(valueOf(f)); err != nil {
		s.sendException(ch.cid, protocol.AsStatus(err, protocol.StatusPutFail), h, err.Error())
	}
}

func (s *session) writeNotify(f wire.Frame) {
	h := f.Header
	ioid := h.Parameter2
	ch, st := s.channel(h)
	if st == nil && !ch.rights.CanWrite() {
		st = protocol.StatusNoWtAccess
	}
	if st == nil {
		if err := ch.pv.Write(valueOf(f)); err != nil {
			st = protocol.AsStatus(err, protocol.StatusPutFail)
		}
	}
	if st == nil {
		st = protocol.StatusNormal
	}
	s.send(protocol.AppendWriteNotifyResponse(nil, h.DataType, h.DataCount, st, ioid))
}

// valueOf 从请求帧取值，普通类型截掉对齐填充
func valueOf(f wire.Frame) types.Value {
	data := f.Payload
	if n := int(f.Header.DataCount) * dbr.Type(f.Header.DataType).ElementSize(); n <= len(data) {
		data = data[:n]
	}
	return types.Value{Type: f.Header.DataType, Count: f.Header.DataCount, Data: data}.Clone()
}

// ============================================================================
//                              订阅
// ============================================================================

func (s *session) eventAdd(f wire.Frame) {
	h := f.Header
	subid := h.Parameter2
	ch, st := s.channel(h)
	if st != nil {
		s.sendException(cidOf(ch), st, h, "event add request")
		return
	}
	mask := protocol.ParseEventAddMask(f.Payload)
	if !mask.Valid() {
		s.sendException(ch.cid, protocol.StatusBadMask, h, "event add request")
		return
	}
	if !ch.rights.CanRead() {
		s.send(protocol.AppendEventAddResponse(nil,
			types.Value{Type: h.DataType, Count: nonZero(h.DataCount)}, protocol.StatusNoRdAccess, subid))
		return
	}

	m := &serverMonitor{sess: s, ch: ch, subid: subid, dataType: h.DataType, count: h.DataCount, mask: mask}
	if !ch.addMonitor(m) {
		s.sendException(ch.cid, protocol.StatusBadMonID, h, "duplicate subscription id")
		return
	}
	m.setUnregister(ch.pv.Register(m))

	// 首个值
	v, err := ch.read(h.DataType, h.DataCount)
	if err != nil {
		m.postStatus(protocol.AsStatus(err, protocol.StatusGetFail))
		return
	}
	m.post(v)
}

func (s *session) eventCancel(f wire.Frame) {
	h := f.Header
	ch, ok := s.channels.Get(h.Parameter1)
	if !ok {
		s.sendException(h.Parameter1, protocol.StatusBadChID, h, "event cancel request")
		return
	}
	m, ok := ch.removeMonitor(h.Parameter2)
	if !ok {
		s.sendException(ch.cid, protocol.StatusBadMonID, h, "event cancel request")
		return
	}
	m.cancel()
	// 空负载的订阅更新作为取消确认
	s.send(protocol.AppendEventAddResponse(nil,
		types.Value{Type: h.DataType}, protocol.StatusNormal, h.Parameter2))
}

// setEventsOff 暂停或恢复订阅推送；恢复时补发暂停期间的最新值
func (s *session) setEventsOff(off bool) {
	s.mu.Lock()
	s.eventsOff = off
	s.mu.Unlock()
	if off {
		return
	}
	for _, ch := range s.channels.Snapshot() {
		for _, m := range ch.monitorList() {
			m.flushHeld()
		}
	}
}

func (s *session) suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsOff
}

func nonZero(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}
