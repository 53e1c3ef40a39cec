package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// encodeRaw 编码未对齐的帧，便于精确覆盖哨兵边界
func encodeRaw(h protocol.Header, payload []byte) []byte {
	h.PayloadSize = uint32(len(payload))
	b := h.Append(nil)
	return append(b, payload...)
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

// ============================================================================
//                              哨兵边界往返
// ============================================================================

// TestFrameReader_SentinelBoundary 测试哨兵附近负载长度的往返
func TestFrameReader_SentinelBoundary(t *testing.T) {
	sizes := []int{
		protocol.ExtendedSentinel - 1,
		protocol.ExtendedSentinel,
		protocol.ExtendedSentinel + 1,
	}
	readers := map[string]func(io.Reader) io.Reader{
		"whole":   func(r io.Reader) io.Reader { return r },
		"onebyte": iotest.OneByteReader,
		"half":    iotest.HalfReader,
	}

	for _, size := range sizes {
		for name, wrap := range readers {
			payload := pattern(size)
			h := protocol.Header{Command: protocol.CmdReadNotify, DataType: 6, DataCount: 3, Parameter1: 1, Parameter2: 42}
			raw := encodeRaw(h, payload)

			wantExtended := size >= protocol.ExtendedSentinel
			assert.Equal(t, wantExtended, protocol.IsExtendedPrefix(raw), "size=%d", size)

			fr := NewFrameReader(wrap(bytes.NewReader(raw)), 4096, 1<<20)
			f, err := fr.Next()
			require.NoError(t, err, "size=%d reader=%s", size, name)
			assert.Equal(t, uint32(size), f.Header.PayloadSize)
			assert.Equal(t, uint32(3), f.Header.DataCount)
			assert.Equal(t, uint32(42), f.Header.Parameter2)
			assert.True(t, bytes.Equal(payload, f.Payload), "size=%d reader=%s", size, name)

			_, err = fr.Next()
			assert.ErrorIs(t, err, io.EOF)
		}
	}

	t.Log("✅ 哨兵边界往返正确")
}

// TestFrameReader_ExtendedCount 测试元素数超过哨兵时使用扩展头
func TestFrameReader_ExtendedCount(t *testing.T) {
	h := protocol.Header{Command: protocol.CmdEventAdd, DataType: 4, DataCount: 0x12345}
	raw := protocol.AppendFrame(nil, h, pattern(10))
	require.True(t, protocol.IsExtendedPrefix(raw))

	fr := NewFrameReader(iotest.OneByteReader(bytes.NewReader(raw)), 64, 1024)
	f, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345), f.Header.DataCount)
	assert.Equal(t, uint32(16), f.Header.PayloadSize)
}

// ============================================================================
//                              部分读状态
// ============================================================================

// TestFrameReader_ShortRead 测试部分读返回 ErrShortRead 并保留状态
func TestFrameReader_ShortRead(t *testing.T) {
	raw := protocol.AppendFrame(nil, protocol.Header{Command: protocol.CmdEcho}, pattern(24))
	fr := NewFrameReader(iotest.OneByteReader(bytes.NewReader(raw)), 64, 1024)

	shorts := 0
	var f Frame
	for {
		var err error
		f, err = fr.ReadFrame()
		if errors.Is(err, ErrShortRead) {
			shorts++
			continue
		}
		require.NoError(t, err)
		break
	}
	assert.Equal(t, len(raw)-1, shorts)
	assert.Equal(t, protocol.CmdEcho, f.Header.Command)
	assert.Equal(t, pattern(24), f.Payload)
}

// TestFrameReader_MultipleFrames 测试一次读取包含多个帧
func TestFrameReader_MultipleFrames(t *testing.T) {
	var raw []byte
	for i := 0; i < 5; i++ {
		raw = protocol.AppendFrame(raw, protocol.Header{Command: protocol.CmdReadNotify, Parameter2: uint32(i)}, pattern(i*8))
	}
	fr := NewFrameReader(bytes.NewReader(raw), 4096, 1024)

	for i := 0; i < 5; i++ {
		f, err := fr.Next()
		require.NoError(t, err)
		assert.Equal(t, uint32(i), f.Header.Parameter2)
		assert.Len(t, f.Payload, i*8)
	}
	assert.Equal(t, 0, fr.Buffered())
}

// TestFrameReader_PayloadLargerThanBuffer 测试负载大于接收缓冲区
func TestFrameReader_PayloadLargerThanBuffer(t *testing.T) {
	payload := pattern(10000)
	raw := protocol.AppendFrame(nil, protocol.Header{Command: protocol.CmdWrite}, payload)
	fr := NewFrameReader(bytes.NewReader(raw), 256, 16384)

	f, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, payload, f.Payload)
	assert.Equal(t, 0, cap(fr.payload)%protocol.PageSize)
}

// ============================================================================
//                              错误路径
// ============================================================================

// TestFrameReader_TooLarge 测试超限负载
func TestFrameReader_TooLarge(t *testing.T) {
	raw := protocol.AppendFrame(nil, protocol.Header{Command: protocol.CmdWrite}, pattern(2048))
	fr := NewFrameReader(bytes.NewReader(raw), 4096, 1024)

	_, err := fr.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, uint32(2048), fe.Size)
}

// TestFrameReader_UnexpectedEOF 测试帧中途断流
func TestFrameReader_UnexpectedEOF(t *testing.T) {
	raw := protocol.AppendFrame(nil, protocol.Header{Command: protocol.CmdWrite}, pattern(64))
	fr := NewFrameReader(bytes.NewReader(raw[:30]), 4096, 1024)

	_, err := fr.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// TestFrameReader_ReadError 测试底层读错误
func TestFrameReader_ReadError(t *testing.T) {
	fr := NewFrameReader(iotest.ErrReader(iotest.ErrTimeout), 4096, 1024)
	_, err := fr.Next()
	assert.ErrorIs(t, err, iotest.ErrTimeout)
}

// TestFrameReader_LastReadFull 测试满读标记
func TestFrameReader_LastReadFull(t *testing.T) {
	var raw []byte
	for i := 0; i < 10; i++ {
		raw = protocol.AppendFrame(raw, protocol.Header{Command: protocol.CmdEcho}, nil)
	}
	fr := NewFrameReader(bytes.NewReader(raw), 32, 1024)

	_, err := fr.Next()
	require.NoError(t, err)
	assert.True(t, fr.LastReadFull())
}

// ============================================================================
//                              数据报
// ============================================================================

// TestForEach 测试数据报多帧解析
func TestForEach(t *testing.T) {
	var dg []byte
	dg = protocol.AppendVersionSequence(dg, protocol.MinorRevision, 7)
	dg = protocol.AppendSearch(dg, "pv:one", 1, protocol.SearchDontReply, protocol.MinorRevision)
	dg = protocol.AppendSearch(dg, "pv:two", 2, protocol.SearchDontReply, protocol.MinorRevision)

	var cmds []protocol.Command
	var names []string
	err := ForEach(dg, func(f Frame) error {
		cmds = append(cmds, f.Header.Command)
		if f.Header.Command == protocol.CmdSearch {
			names = append(names, protocol.ExtractString(f.Payload))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []protocol.Command{protocol.CmdVersion, protocol.CmdSearch, protocol.CmdSearch}, cmds)
	assert.Equal(t, []string{"pv:one", "pv:two"}, names)

	assert.ErrorIs(t, ForEach(dg[:len(dg)-3], func(Frame) error { return nil }), ErrTruncated)

	stop := errors.New("stop")
	assert.ErrorIs(t, ForEach(dg, func(Frame) error { return stop }), stop)

	t.Log("✅ 数据报解析正确")
}
