package protocol

import (
	"encoding/binary"
	"errors"
)

// 消息头错误
var (
	// ErrShortHeader 缓冲区不足以容纳完整消息头
	ErrShortHeader = errors.New("protocol: short header")
	// ErrPayloadTooLarge 负载超出对端协议版本允许的范围
	ErrPayloadTooLarge = errors.New("protocol: payload too large for peer revision")
)

// Header 消息头（标准或扩展形式的统一表示）
type Header struct {
	Command     Command
	PayloadSize uint32
	DataType    uint16
	DataCount   uint32
	Parameter1  uint32
	Parameter2  uint32
}

// Extended 是否需要扩展形式编码
func (h Header) Extended() bool {
	return h.PayloadSize >= ExtendedSentinel || h.DataCount >= ExtendedSentinel
}

// Size 编码后的消息头长度
func (h Header) Size() int {
	if h.Extended() {
		return ExtendedHeaderSize
	}
	return HeaderSize
}

// FrameSize 消息头加负载的总长度
func (h Header) FrameSize() int {
	return h.Size() + int(h.PayloadSize)
}

// Append 将消息头编码追加到 b
func (h Header) Append(b []byte) []byte {
	if h.Extended() {
		b = binary.BigEndian.AppendUint16(b, uint16(h.Command))
		b = binary.BigEndian.AppendUint16(b, ExtendedSentinel)
		b = binary.BigEndian.AppendUint16(b, h.DataType)
		b = binary.BigEndian.AppendUint16(b, 0)
		b = binary.BigEndian.AppendUint32(b, h.Parameter1)
		b = binary.BigEndian.AppendUint32(b, h.Parameter2)
		b = binary.BigEndian.AppendUint32(b, h.PayloadSize)
		return binary.BigEndian.AppendUint32(b, h.DataCount)
	}
	b = binary.BigEndian.AppendUint16(b, uint16(h.Command))
	b = binary.BigEndian.AppendUint16(b, uint16(h.PayloadSize))
	b = binary.BigEndian.AppendUint16(b, h.DataType)
	b = binary.BigEndian.AppendUint16(b, uint16(h.DataCount))
	b = binary.BigEndian.AppendUint32(b, h.Parameter1)
	return binary.BigEndian.AppendUint32(b, h.Parameter2)
}

// Bytes 返回独立的消息头编码
func (h Header) Bytes() []byte {
	return h.Append(make([]byte, 0, ExtendedHeaderSize))
}

// IsExtendedPrefix 检查标准头部分是否带扩展哨兵
//
// b 至少包含 HeaderSize 字节。
func IsExtendedPrefix(b []byte) bool {
	return binary.BigEndian.Uint16(b[2:4]) == ExtendedSentinel
}

// DecodeHeader 从 b 解码消息头，返回消息头与消耗的字节数
//
// b 不足以容纳完整（可能是扩展的）消息头时返回 ErrShortHeader。
func DecodeHeader(b []byte) (Header, int, error) {
	if len(b) < HeaderSize {
		return Header{}, 0, ErrShortHeader
	}
	h := Header{
		Command:     Command(binary.BigEndian.Uint16(b[0:2])),
		PayloadSize: uint32(binary.BigEndian.Uint16(b[2:4])),
		DataType:    binary.BigEndian.Uint16(b[4:6]),
		DataCount:   uint32(binary.BigEndian.Uint16(b[6:8])),
		Parameter1:  binary.BigEndian.Uint32(b[8:12]),
		Parameter2:  binary.BigEndian.Uint32(b[12:16]),
	}
	if h.PayloadSize != ExtendedSentinel {
		return h, HeaderSize, nil
	}
	if len(b) < ExtendedHeaderSize {
		return Header{}, 0, ErrShortHeader
	}
	h.PayloadSize = binary.BigEndian.Uint32(b[16:20])
	h.DataCount = binary.BigEndian.Uint32(b[20:24])
	return h, ExtendedHeaderSize, nil
}

// AlignedSize 将 n 向上对齐到 Alignment
func AlignedSize(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// CheckPeerRevision 检查消息头能否发送给指定次版本的对端
func CheckPeerRevision(h Header, peerMinor uint16) error {
	if h.Extended() && peerMinor < MinorExtendedHeader {
		return ErrPayloadTooLarge
	}
	return nil
}
