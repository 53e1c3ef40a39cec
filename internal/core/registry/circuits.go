package registry

import (
	"sync"

	"github.com/dep2p/go-chanaccess/pkg/types"
)

// CircuitKey 电路标识
type CircuitKey struct {
	Addr     string
	Priority types.Priority
}

// Circuits 电路注册表
type Circuits[C comparable] struct {
	mu    sync.RWMutex
	m     map[CircuitKey]C
	locks *NamedLocks[CircuitKey]
}

// NewCircuits 创建电路注册表
func NewCircuits[C comparable]() *Circuits[C] {
	return &Circuits[C]{
		m:     make(map[CircuitKey]C),
		locks: NewNamedLocks[CircuitKey](),
	}
}

// GetOrCreate 返回键对应的电路，不存在时调用 create 创建
//
// 同一键的创建在按键锁内串行，不同键互不阻塞。create 失败时不注册。
func (r *Circuits[C]) GetOrCreate(key CircuitKey, create func() (C, error)) (C, bool, error) {
	if c, ok := r.Get(key); ok {
		return c, false, nil
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	if c, ok := r.Get(key); ok {
		return c, false, nil
	}
	c, err := create()
	if err != nil {
		var zero C
		return zero, false, err
	}
	r.mu.Lock()
	r.m[key] = c
	r.mu.Unlock()
	return c, true, nil
}

// Get 查找电路
func (r *Circuits[C]) Get(key CircuitKey) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[key]
	return c, ok
}

// Remove 移除电路，仅当注册的正是 c 时生效
func (r *Circuits[C]) Remove(key CircuitKey, c C) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[key]; ok && cur == c {
		delete(r.m, key)
		return true
	}
	return false
}

// All 返回所有电路
func (r *Circuits[C]) All() []C {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]C, 0, len(r.m))
	for _, c := range r.m {
		out = append(out, c)
	}
	return out
}

// Len 电路数量
func (r *Circuits[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
