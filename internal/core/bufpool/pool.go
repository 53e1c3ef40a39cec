// Package bufpool 提供发送路径使用的定容字节缓冲池
//
// 缓冲区底层存储来自 bytebufferpool，池本身额外保证：
//   - 每个缓冲区至少具有配置的容量，追加超过容量时拒绝而不是扩容
//   - 记录借出数量，便于在电路关闭时验证缓冲区全部归还
package bufpool

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Pool 定容缓冲池
type Pool struct {
	capacity    int
	pool        bytebufferpool.Pool
	outstanding atomic.Int64
}

// New 创建容量为 capacity 的缓冲池
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{capacity: capacity}
}

// Capacity 单个缓冲区容量
func (p *Pool) Capacity() int { return p.capacity }

// Outstanding 当前借出的缓冲区数量
func (p *Pool) Outstanding() int64 { return p.outstanding.Load() }

// Get 借出一个空缓冲区
func (p *Pool) Get() *Buffer {
	bb := p.pool.Get()
	if cap(bb.B) < p.capacity {
		bb.B = make([]byte, 0, p.capacity)
	}
	bb.B = bb.B[:0]
	p.outstanding.Add(1)
	return &Buffer{bb: bb, capacity: p.capacity, pool: p}
}

// Put 归还缓冲区；重复归还是无害的
func (p *Pool) Put(b *Buffer) {
	if b == nil || b.bb == nil {
		return
	}
	bb := b.bb
	b.bb = nil
	b.off = 0
	p.outstanding.Add(-1)
	p.pool.Put(bb)
}

// Buffer 定容缓冲区
//
// 写入方通过 Append 追加完整帧，写出方通过 Unread/Advance 处理部分写。
type Buffer struct {
	bb       *bytebufferpool.ByteBuffer
	capacity int
	off      int
	pool     *Pool
}

// Len 已写入字节数（含已写出部分）
func (b *Buffer) Len() int { return len(b.bb.B) }

// Available 剩余可追加字节数
func (b *Buffer) Available() int { return b.capacity - len(b.bb.B) }

// Empty 是否没有待写出数据
func (b *Buffer) Empty() bool { return b.off >= len(b.bb.B) }

// Append 追加 p；放不下时返回 false 且不修改缓冲区
func (b *Buffer) Append(p []byte) bool {
	if len(p) > b.Available() {
		return false
	}
	b.bb.B = append(b.bb.B, p...)
	return true
}

// Merge 把 other 的未写出内容并入 b；放不下时返回 false
func (b *Buffer) Merge(other *Buffer) bool {
	return b.Append(other.Unread())
}

// Unread 尚未写出的字节
func (b *Buffer) Unread() []byte { return b.bb.B[b.off:] }

// Advance 标记 n 字节已写出
func (b *Buffer) Advance(n int) {
	b.off += n
	if b.off > len(b.bb.B) {
		b.off = len(b.bb.B)
	}
}

// Reset 清空缓冲区以便复用
func (b *Buffer) Reset() {
	b.bb.B = b.bb.B[:0]
	b.off = 0
}

// Release 归还到所属缓冲池
func (b *Buffer) Release() {
	if b.pool != nil {
		b.pool.Put(b)
	}
}

// Wrap 把一个超过池容量的帧包装为独立缓冲区，Release 时不归还到池
func Wrap(b []byte) *Buffer {
	bb := &bytebufferpool.ByteBuffer{B: b}
	return &Buffer{bb: bb, capacity: len(b)}
}
