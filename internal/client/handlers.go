package client

import (
	"fmt"
	"net"

	"github.com/dep2p/go-chanaccess/internal/core/circuit"
	"github.com/dep2p/go-chanaccess/internal/core/wire"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// ============================================================================
//                              UDP
// ============================================================================

// sendSearch 把搜索数据报发往所有目标
func (c *Context) sendSearch(dg []byte) error {
	if len(c.targets) == 0 {
		if !c.warnedEmpty.Swap(true) {
			logger.Warn("搜索地址列表为空", "status", protocol.StatusNoSearchAddr.Name)
		}
		return nil
	}
	return c.udp.SendAll(dg, c.targets)
}

// handleDatagram 处理搜索套接字收到的数据报
func (c *Context) handleDatagram(from *net.UDPAddr, data []byte) {
	if c.destroyed.Load() {
		return
	}
	var (
		seq      uint32
		seqValid bool
		minor    uint16
	)
	err := wire.ForEach(data, func(f wire.Frame) error {
		h := f.Header
		c.metrics.FrameReceived(h.Command, h.Size()+len(f.Payload))
		switch h.Command {
		case protocol.CmdVersion:
			minor = uint16(h.DataCount)
			if h.DataType&protocol.SequenceNumberValid != 0 {
				seq, seqValid = h.Parameter1, true
			}
		case protocol.CmdSearch:
			c.handleSearchResponse(from, f, seq, seqValid, minor)
		case protocol.CmdNotFound:
		case protocol.CmdBeacon:
			c.beacons.HandleFrame(from, h)
		case protocol.CmdRepeaterConfirm:
			if c.registrar != nil {
				c.registrar.Confirm()
			}
		default:
			logger.Debug("忽略未知的 UDP 命令", "from", from.String(), "cmd", h.Command.String())
		}
		return nil
	})
	if err != nil {
		if logger.Enabled(log.LevelDebug) {
			logger.Debug("丢弃损坏的数据报", "from", from.String(), "err", err, "dump", log.HexDump(data, 64))
		}
	}
}

func (c *Context) handleSearchResponse(from *net.UDPAddr, f wire.Frame, seq uint32, seqValid bool, versionMinor uint16) {
	cid := f.Header.Parameter2
	ch, ok := c.cids.Get(cid)
	if !ok {
		logger.Debug("搜索响应没有匹配的通道", "cid", cid, "status", protocol.StatusNoChanMsg.Name)
		return
	}
	addr := c.serverAddress(from, f.Header)
	if !c.scheduler.Accept(ch, seq, seqValid) {
		// 不同服务端应答同一数据报时序列号相同
		if !ch.duplicateResponse(addr) {
			logger.Debug("丢弃过期的搜索响应", "channel", ch.name, "seq", seq)
		}
		return
	}
	minor := protocol.ParseSearchResponseMinor(f.Payload)
	if minor == 0 {
		minor = versionMinor
	}
	ch.searchResponse(addr, minor)
}

// ============================================================================
//                              TCP
// ============================================================================

// HandleFrame 实现 circuit.Handler，在电路读协程上调用
func (c *Context) HandleFrame(circ *circuit.Circuit, f wire.Frame) error {
	h := f.Header
	switch h.Command {
	case protocol.CmdVersion:
		circ.SetRemoteMinor(uint16(h.DataCount))

	case protocol.CmdEcho, protocol.CmdReadSync, protocol.CmdClearChannel,
		protocol.CmdEventsOff, protocol.CmdEventsOn:

	case protocol.CmdCreateChannel:
		if ch, ok := c.cids.Get(h.Parameter1); ok {
			ch.createConfirmed(circ, h.Parameter2, h.DataType, h.DataCount)
		}

	case protocol.CmdAccessRights:
		if ch, ok := c.cids.Get(h.Parameter1); ok {
			ch.setAccessRights(circ, types.AccessRights(h.Parameter2))
		}

	case protocol.CmdCreateChannelFailed:
		if ch, ok := c.cids.Get(h.Parameter1); ok {
			ch.detach(circ, protocol.StatusChidNotFound, true)
		}

	case protocol.CmdServerDisconnect:
		if ch, ok := c.cids.Get(h.Parameter1); ok {
			ch.detach(circ, protocol.StatusDisconn, true)
		}

	case protocol.CmdReadNotify, protocol.CmdWriteNotify, protocol.CmdEventAdd:
		c.completeRequest(h.Parameter2, f)

	case protocol.CmdError:
		c.handleError(circ, f)

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedCommand, h.Command)
	}
	return nil
}

// completeRequest 把回复交给请求；订阅保留在表中，其他请求完成后释放 ID
func (c *Context) completeRequest(id uint32, f wire.Frame) {
	r, ok := c.requests.Get(id)
	if !ok {
		return
	}
	if m, ok := r.(*Monitor); ok {
		m.complete(f)
		return
	}
	if r, ok = c.requests.Release(id); !ok {
		return
	}
	r.channel().forget(id)
	r.complete(f)
}

// failRequest 以 err 结束请求
func (c *Context) failRequest(id uint32, err error) bool {
	r, ok := c.requests.Get(id)
	if !ok {
		return false
	}
	if m, ok := r.(*Monitor); ok {
		m.ch.dropMonitor(m, err)
		return true
	}
	if r, ok = c.requests.Release(id); !ok {
		return false
	}
	r.channel().forget(id)
	r.fail(err)
	return true
}

// handleError 处理服务端异常帧
func (c *Context) handleError(circ *circuit.Circuit, f wire.Frame) {
	st := protocol.StatusForCode(f.Header.Parameter2)
	orig, ok, msg := protocol.ParseError(f.Payload)
	if ok {
		switch orig.Command {
		case protocol.CmdCreateChannel:
			if ch, found := c.cids.Get(orig.Parameter1); found {
				ch.detach(circ, st, true)
				return
			}
		case protocol.CmdReadNotify, protocol.CmdWriteNotify, protocol.CmdEventAdd:
			if c.failRequest(orig.Parameter2, st) {
				return
			}
		}
	}

	ev := types.ExceptionEvent{Status: st, Message: msg}
	if ch, found := c.cids.Get(f.Header.Parameter1); found {
		ev.Channel = ch.name
	}
	c.raise(ev)
}
