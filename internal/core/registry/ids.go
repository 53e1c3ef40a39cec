package registry

import "sync"

// IDGenerator 回绕计数器
//
// 跳过 0 与仍在使用的 ID，避免上一轮的请求尚未结束时重用其 ID。
type IDGenerator struct {
	next uint32
}

// Next 返回下一个未被占用的 ID
//
// inUse 为 nil 时不做占用检查。整个 ID 空间都被占用时返回 ErrIDsExhausted。
func (g *IDGenerator) Next(inUse func(uint32) bool) (uint32, error) {
	for i := uint64(0); i < 1<<32; i++ {
		g.next++
		if g.next == 0 {
			g.next = 1
		}
		if inUse == nil || !inUse(g.next) {
			return g.next, nil
		}
	}
	return 0, ErrIDsExhausted
}

// Table ID 表
//
// Reserve 在发送前分配 ID，Release 幂等：同一 ID 的回复与取消只有一方获胜。
type Table[V any] struct {
	mu  sync.Mutex
	gen IDGenerator
	m   map[uint32]V
}

// NewTable 创建 ID 表
func NewTable[V any]() *Table[V] {
	return &Table[V]{m: make(map[uint32]V)}
}

// Reserve 为 v 分配 ID
func (t *Table[V]) Reserve(v V) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, err := t.gen.Next(func(id uint32) bool {
		_, ok := t.m[id]
		return ok
	})
	if err != nil {
		return 0, err
	}
	t.m[id] = v
	return id, nil
}

// ReserveWith 分配 ID 并用 build 构造值，build 在锁内执行
func (t *Table[V]) ReserveWith(build func(id uint32) V) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, err := t.gen.Next(func(id uint32) bool {
		_, ok := t.m[id]
		return ok
	})
	if err != nil {
		return 0, err
	}
	t.m[id] = build(id)
	return id, nil
}

// Get 查找 ID
func (t *Table[V]) Get(id uint32) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[id]
	return v, ok
}

// Release 释放 ID；只有第一次调用返回 true
func (t *Table[V]) Release(id uint32) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	return v, ok
}

// Len 已分配的 ID 数量
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// Snapshot 返回当前所有值
func (t *Table[V]) Snapshot() map[uint32]V {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint32]V, len(t.m))
	for k, v := range t.m {
		out[k] = v
	}
	return out
}
