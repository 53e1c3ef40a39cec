package wire

import (
	"errors"
	"io"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// Frame 一个完整的帧
//
// Payload 引用读取器内部缓冲区，只在下一次读取前有效。
type Frame struct {
	Header  protocol.Header
	Payload []byte
}

// readState 读取状态
type readState int

const (
	stateHeader readState = iota
	statePayload
)

// FrameReader 流式帧读取器
type FrameReader struct {
	r          io.Reader
	maxPayload int

	// 接收缓冲区 buf[start:end] 为未解析的数据
	buf        []byte
	start, end int
	lastFull   bool
	reads      uint64

	state   readState
	header  protocol.Header
	payload []byte
	filled  int
}

// NewFrameReader 创建帧读取器
//
// bufSize 为单次 Read 的接收缓冲区大小，maxPayload 为允许的最大负载。
func NewFrameReader(r io.Reader, bufSize, maxPayload int) *FrameReader {
	if bufSize < protocol.ExtendedHeaderSize {
		bufSize = protocol.MaxTCPRecv
	}
	return &FrameReader{
		r:          r,
		maxPayload: maxPayload,
		buf:        make([]byte, bufSize),
	}
}

// LastReadFull 最近一次底层 Read 是否填满了接收缓冲区的空闲部分
//
// 连续多次填满意味着对端发送快于本端处理，可用于流控。
func (fr *FrameReader) LastReadFull() bool { return fr.lastFull }

// Reads 底层 Read 调用次数
func (fr *FrameReader) Reads() uint64 { return fr.reads }

// Buffered 接收缓冲区中尚未解析的字节数
func (fr *FrameReader) Buffered() int { return fr.end - fr.start }

// Next 阻塞直到读出一个完整帧
func (fr *FrameReader) Next() (Frame, error) {
	for {
		f, err := fr.ReadFrame()
		if errors.Is(err, ErrShortRead) {
			continue
		}
		return f, err
	}
}

// ReadFrame 尝试读出一个帧，最多调用一次底层 Read
//
// 缓冲数据已足够时不调用底层 Read。帧未完整时返回 ErrShortRead，
// 部分状态保留到下一次调用。
func (fr *FrameReader) ReadFrame() (Frame, error) {
	if f, ok, err := fr.parse(); ok || err != nil {
		return f, err
	}
	if err := fr.fill(); err != nil {
		return Frame{}, err
	}
	if f, ok, err := fr.parse(); ok || err != nil {
		return f, err
	}
	return Frame{}, ErrShortRead
}

// fill 执行一次底层 Read
func (fr *FrameReader) fill() error {
	if fr.start > 0 {
		copy(fr.buf, fr.buf[fr.start:fr.end])
		fr.end -= fr.start
		fr.start = 0
	}
	free := len(fr.buf) - fr.end
	n, err := fr.r.Read(fr.buf[fr.end:])
	fr.reads++
	fr.end += n
	fr.lastFull = n == free
	if n > 0 {
		// 已读到数据时错误留给下一次调用处理
		return nil
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) && (fr.state != stateHeader || fr.Buffered() > 0) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// parse 从缓冲数据推进状态机
func (fr *FrameReader) parse() (Frame, bool, error) {
	if fr.state == stateHeader {
		avail := fr.buf[fr.start:fr.end]
		if len(avail) < protocol.HeaderSize {
			return Frame{}, false, nil
		}
		need := protocol.HeaderSize
		if protocol.IsExtendedPrefix(avail) {
			need = protocol.ExtendedHeaderSize
		}
		if len(avail) < need {
			return Frame{}, false, nil
		}
		h, n, err := protocol.DecodeHeader(avail[:need])
		if err != nil {
			return Frame{}, false, err
		}
		if fr.maxPayload > 0 && int64(h.PayloadSize) > int64(fr.maxPayload) {
			return Frame{}, false, &FrameError{Op: "read", Size: h.PayloadSize, Limit: fr.maxPayload, Err: ErrFrameTooLarge}
		}
		fr.start += n
		fr.header = h
		fr.grow(int(h.PayloadSize))
		fr.filled = 0
		fr.state = statePayload
	}

	size := int(fr.header.PayloadSize)
	if fr.filled < size {
		n := copy(fr.payload[fr.filled:size], fr.buf[fr.start:fr.end])
		fr.start += n
		fr.filled += n
		if fr.filled < size {
			return Frame{}, false, nil
		}
	}

	f := Frame{Header: fr.header, Payload: fr.payload[:size]}
	fr.state = stateHeader
	fr.filled = 0
	return f, true, nil
}

// grow 按页粒度扩容负载缓冲区
func (fr *FrameReader) grow(n int) {
	if cap(fr.payload) >= n {
		fr.payload = fr.payload[:cap(fr.payload)]
		return
	}
	size := (n + protocol.PageSize - 1) / protocol.PageSize * protocol.PageSize
	fr.payload = make([]byte, size)
}
