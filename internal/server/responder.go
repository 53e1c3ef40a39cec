package server

import (
	"net"

	"github.com/dep2p/go-chanaccess/internal/core/udp"
	"github.com/dep2p/go-chanaccess/internal/core/wire"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// 老于 4 的客户端使用的搜索格式不再支持
const minSearchMinor = 4

// searchReply 一个数据报的应答缓冲
type searchReply struct {
	s        *Context
	to       *net.UDPAddr
	seq      uint32
	seqValid bool
	buf      []byte
}

func (r *searchReply) append(frame func([]byte) []byte, size int) {
	if len(r.buf)+size > protocol.MaxUDPSend {
		r.flush()
	}
	if len(r.buf) == 0 {
		if r.seqValid {
			r.buf = protocol.AppendVersionSequence(r.buf, protocol.MinorRevision, r.seq)
		} else {
			r.buf = protocol.AppendVersion(r.buf, 0, protocol.MinorRevision)
		}
	}
	r.buf = frame(r.buf)
}

func (r *searchReply) flush() {
	if len(r.buf) == 0 {
		return
	}
	if err := r.s.udp.Send(r.buf, r.to); err != nil {
		logger.Debug("发送搜索应答失败", "to", r.to.String(), "err", err)
	}
	r.buf = r.buf[:0]
}

// handleDatagram 处理搜索数据报
func (s *Context) handleDatagram(from *net.UDPAddr, data []byte) {
	if s.destroyed.Load() {
		return
	}
	if udp.Contains(s.ignore, from.IP) {
		return
	}

	reply := &searchReply{s: s, to: from}
	err := wire.ForEach(data, func(f wire.Frame) error {
		h := f.Header
		s.metrics.FrameReceived(h.Command, h.Size()+len(f.Payload))
		switch h.Command {
		case protocol.CmdVersion:
			if h.DataType&protocol.SequenceNumberValid != 0 {
				reply.seq, reply.seqValid = h.Parameter1, true
			}
		case protocol.CmdSearch:
			s.answerSearch(reply, from, f)
		case protocol.CmdRepeaterConfirm, protocol.CmdBeacon:
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
	reply.flush()
}

func (s *Context) answerSearch(reply *searchReply, from *net.UDPAddr, f wire.Frame) {
	h := f.Header
	clientMinor := uint16(h.DataCount)
	if clientMinor < minSearchMinor {
		return
	}
	name := protocol.ExtractString(f.Payload)
	if !protocol.ReasonableServerName(name) {
		return
	}
	cid := h.Parameter1

	info := interfaces.ClientInfo{Addr: from, Minor: clientMinor}
	if s.hooks.ProcessVariableExistenceTest(name, info) == interfaces.ExistenceExists {
		reply.append(func(b []byte) []byte {
			return protocol.AppendSearchResponse(b, uint16(s.port), s.serverAddr, cid, protocol.MinorRevision)
		}, protocol.HeaderSize+8)
		return
	}
	if h.DataType == protocol.SearchDoReply {
		reply.append(func(b []byte) []byte {
			return protocol.AppendNotFound(b, h.DataType, clientMinor, cid)
		}, protocol.HeaderSize)
	}
}
