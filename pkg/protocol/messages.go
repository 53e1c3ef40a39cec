package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/dep2p/go-chanaccess/pkg/types"
)

// ============================================================================
//                              通用帧构造
// ============================================================================

// AppendFrame 追加完整帧：消息头 + 按 8 字节对齐填充的负载
//
// h.PayloadSize 会被覆盖为对齐后的负载长度。
func AppendFrame(b []byte, h Header, payload []byte) []byte {
	aligned := AlignedSize(len(payload))
	h.PayloadSize = uint32(aligned)
	b = h.Append(b)
	b = append(b, payload...)
	for i := len(payload); i < aligned; i++ {
		b = append(b, 0)
	}
	return b
}

// FrameLen 返回负载长度为 n 时帧的总长度
func FrameLen(n int, count uint32) int {
	h := Header{PayloadSize: uint32(AlignedSize(n)), DataCount: count}
	return h.FrameSize()
}

// appendStringFrame 追加以 NUL 结尾的字符串负载帧
func appendStringFrame(b []byte, h Header, s string) []byte {
	payload := make([]byte, len(s)+1)
	copy(payload, s)
	return AppendFrame(b, h, payload)
}

// ============================================================================
//                              版本与会话
// ============================================================================

// AppendVersion 追加 TCP 版本帧（dataType = 优先级，count = 次版本）
func AppendVersion(b []byte, priority types.Priority, minor uint16) []byte {
	return AppendFrame(b, Header{Command: CmdVersion, DataType: uint16(priority), DataCount: uint32(minor)}, nil)
}

// AppendVersionSequence 追加 UDP 版本帧，携带有效序列号
func AppendVersionSequence(b []byte, minor uint16, seq uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdVersion,
		DataType:   SequenceNumberValid,
		DataCount:  uint32(minor),
		Parameter1: seq,
	}, nil)
}

// AppendClientName 追加用户名帧
func AppendClientName(b []byte, user string) []byte {
	return appendStringFrame(b, Header{Command: CmdClientName}, user)
}

// AppendHostName 追加主机名帧
func AppendHostName(b []byte, host string) []byte {
	return appendStringFrame(b, Header{Command: CmdHostName}, host)
}

// AppendEcho 追加回显帧
func AppendEcho(b []byte) []byte {
	return AppendFrame(b, Header{Command: CmdEcho}, nil)
}

// AppendReadSync 追加 ReadSync 帧（老版本对端的存活探测）
func AppendReadSync(b []byte) []byte {
	return AppendFrame(b, Header{Command: CmdReadSync}, nil)
}

// AppendEventsOff 追加暂停订阅推送帧
func AppendEventsOff(b []byte) []byte {
	return AppendFrame(b, Header{Command: CmdEventsOff}, nil)
}

// AppendEventsOn 追加恢复订阅推送帧
func AppendEventsOn(b []byte) []byte {
	return AppendFrame(b, Header{Command: CmdEventsOn}, nil)
}

// ============================================================================
//                              搜索与信标（UDP）
// ============================================================================

// AppendSearch 追加搜索请求
func AppendSearch(b []byte, name string, cid uint32, reply uint16, minor uint16) []byte {
	return appendStringFrame(b, Header{
		Command:    CmdSearch,
		DataType:   reply,
		DataCount:  uint32(minor),
		Parameter1: cid,
		Parameter2: cid,
	}, name)
}

// SearchLen 搜索请求帧长度
func SearchLen(name string) int {
	return HeaderSize + AlignedSize(len(name)+1)
}

// AppendSearchResponse 追加搜索响应
//
// serverAddr 为 UnknownServerAddress 时客户端使用数据报源地址。
func AppendSearchResponse(b []byte, port uint16, serverAddr uint32, cid uint32, minor uint16) []byte {
	payload := binary.BigEndian.AppendUint16(nil, minor)
	return AppendFrame(b, Header{
		Command:    CmdSearch,
		DataType:   port,
		Parameter1: serverAddr,
		Parameter2: cid,
	}, payload)
}

// ParseSearchResponseMinor 解析搜索响应中的服务端次版本
func ParseSearchResponseMinor(payload []byte) uint16 {
	if len(payload) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(payload)
}

// AppendNotFound 追加未找到响应
func AppendNotFound(b []byte, reply uint16, minor uint16, cid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdNotFound,
		DataType:   reply,
		DataCount:  uint32(minor),
		Parameter1: cid,
		Parameter2: cid,
	}, nil)
}

// AppendBeacon 追加信标
func AppendBeacon(b []byte, minor uint16, port uint16, seq uint32, addr uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdBeacon,
		DataType:   minor,
		DataCount:  uint32(port),
		Parameter1: seq,
		Parameter2: addr,
	}, nil)
}

// AppendRepeaterRegister 追加转发器注册请求
func AppendRepeaterRegister(b []byte, localAddr uint32) []byte {
	return AppendFrame(b, Header{Command: CmdRepeaterRegister, Parameter2: localAddr}, nil)
}

// AppendRepeaterConfirm 追加转发器注册确认
func AppendRepeaterConfirm(b []byte, clientAddr uint32) []byte {
	return AppendFrame(b, Header{Command: CmdRepeaterConfirm, Parameter2: clientAddr}, nil)
}

// ============================================================================
//                              通道
// ============================================================================

// AppendCreateChannel 追加创建通道请求（p1 = cid，p2 = 次版本）
func AppendCreateChannel(b []byte, name string, cid uint32, minor uint16) []byte {
	return appendStringFrame(b, Header{
		Command:    CmdCreateChannel,
		Parameter1: cid,
		Parameter2: uint32(minor),
	}, name)
}

// AppendCreateChannelResponse 追加创建通道响应
func AppendCreateChannelResponse(b []byte, dataType uint16, count uint32, cid, sid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdCreateChannel,
		DataType:   dataType,
		DataCount:  count,
		Parameter1: cid,
		Parameter2: sid,
	}, nil)
}

// AppendCreateChannelFailed 追加创建通道失败响应
func AppendCreateChannelFailed(b []byte, cid uint32) []byte {
	return AppendFrame(b, Header{Command: CmdCreateChannelFailed, Parameter1: cid}, nil)
}

// AppendAccessRights 追加访问权限
func AppendAccessRights(b []byte, cid uint32, rights types.AccessRights) []byte {
	return AppendFrame(b, Header{Command: CmdAccessRights, Parameter1: cid, Parameter2: uint32(rights)}, nil)
}

// AppendClearChannel 追加清除通道（请求与响应格式相同）
func AppendClearChannel(b []byte, sid, cid uint32) []byte {
	return AppendFrame(b, Header{Command: CmdClearChannel, Parameter1: sid, Parameter2: cid}, nil)
}

// AppendServerDisconnect 追加服务端断开通道通知
func AppendServerDisconnect(b []byte, cid uint32) []byte {
	return AppendFrame(b, Header{Command: CmdServerDisconnect, Parameter1: cid}, nil)
}

// ============================================================================
//                              读写与订阅
// ============================================================================

// AppendReadNotify 追加读请求
func AppendReadNotify(b []byte, dataType uint16, count uint32, sid, ioid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdReadNotify,
		DataType:   dataType,
		DataCount:  count,
		Parameter1: sid,
		Parameter2: ioid,
	}, nil)
}

// AppendReadNotifyResponse 追加读响应（p1 = 状态码）
func AppendReadNotifyResponse(b []byte, v types.Value, status *Status, ioid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdReadNotify,
		DataType:   v.Type,
		DataCount:  v.Count,
		Parameter1: status.Code(),
		Parameter2: ioid,
	}, v.Data)
}

// AppendWrite 追加无确认写请求
func AppendWrite(b []byte, v types.Value, sid, ioid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdWrite,
		DataType:   v.Type,
		DataCount:  v.Count,
		Parameter1: sid,
		Parameter2: ioid,
	}, v.Data)
}

// AppendWriteNotify 追加带确认写请求
func AppendWriteNotify(b []byte, v types.Value, sid, ioid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdWriteNotify,
		DataType:   v.Type,
		DataCount:  v.Count,
		Parameter1: sid,
		Parameter2: ioid,
	}, v.Data)
}

// AppendWriteNotifyResponse 追加写确认
func AppendWriteNotifyResponse(b []byte, dataType uint16, count uint32, status *Status, ioid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdWriteNotify,
		DataType:   dataType,
		DataCount:  count,
		Parameter1: status.Code(),
		Parameter2: ioid,
	}, nil)
}

// EventAddPayloadSize 订阅请求负载长度
const EventAddPayloadSize = 16

// AppendEventAdd 追加订阅请求
//
// 负载：low/high/to 三个 float32（均为 0）、掩码 u16、对齐 u16。
func AppendEventAdd(b []byte, dataType uint16, count uint32, sid, subid uint32, mask types.MonitorMask) []byte {
	payload := make([]byte, EventAddPayloadSize)
	binary.BigEndian.PutUint16(payload[12:14], uint16(mask))
	return AppendFrame(b, Header{
		Command:    CmdEventAdd,
		DataType:   dataType,
		DataCount:  count,
		Parameter1: sid,
		Parameter2: subid,
	}, payload)
}

// ParseEventAddMask 解析订阅请求的掩码
func ParseEventAddMask(payload []byte) types.MonitorMask {
	if len(payload) < 14 {
		return 0
	}
	return types.MonitorMask(binary.BigEndian.Uint16(payload[12:14]))
}

// AppendEventAddResponse 追加订阅更新（p1 = 状态码，p2 = 订阅 ID）
//
// 空负载的订阅更新表示订阅已被取消。
func AppendEventAddResponse(b []byte, v types.Value, status *Status, subid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdEventAdd,
		DataType:   v.Type,
		DataCount:  v.Count,
		Parameter1: status.Code(),
		Parameter2: subid,
	}, v.Data)
}

// AppendEventCancel 追加取消订阅请求
func AppendEventCancel(b []byte, dataType uint16, count uint32, sid, subid uint32) []byte {
	return AppendFrame(b, Header{
		Command:    CmdEventCancel,
		DataType:   dataType,
		DataCount:  count,
		Parameter1: sid,
		Parameter2: subid,
	}, nil)
}

// ============================================================================
//                              异常
// ============================================================================

// AppendError 追加异常帧
//
// 负载为出错请求的原始消息头加以 NUL 结尾的错误消息，p1 = cid，p2 = 状态码。
func AppendError(b []byte, cid uint32, status *Status, original Header, msg string) []byte {
	payload := original.Bytes()
	if msg != "" {
		payload = append(payload, msg...)
		payload = append(payload, 0)
	}
	return AppendFrame(b, Header{
		Command:    CmdError,
		Parameter1: cid,
		Parameter2: status.Code(),
	}, payload)
}

// ParseError 解析异常帧负载，返回原始消息头与错误消息
func ParseError(payload []byte) (Header, bool, string) {
	if len(payload) < HeaderSize {
		return Header{}, false, ""
	}
	orig, n, err := DecodeHeader(payload)
	if err != nil {
		return Header{}, false, ""
	}
	return orig, true, ExtractString(payload[n:])
}

// ============================================================================
//                              负载工具
// ============================================================================

// ExtractString 提取以 NUL 结尾（或占满缓冲区）的字符串
func ExtractString(payload []byte) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		return string(payload[:i])
	}
	return string(payload)
}
