package registry

import "sync"

// NamedLocks 按键的互斥锁
//
// 锁在没有持有者和等待者时自动回收。
type NamedLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*namedLock
}

type namedLock struct {
	mu   sync.Mutex
	refs int
}

// NewNamedLocks 创建按键锁
func NewNamedLocks[K comparable]() *NamedLocks[K] {
	return &NamedLocks[K]{locks: make(map[K]*namedLock)}
}

// Lock 锁定 key，返回解锁函数
func (n *NamedLocks[K]) Lock(key K) (unlock func()) {
	n.mu.Lock()
	l, ok := n.locks[key]
	if !ok {
		l = &namedLock{}
		n.locks[key] = l
	}
	l.refs++
	n.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		n.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(n.locks, key)
		}
		n.mu.Unlock()
	}
}

// Len 当前活跃的锁数量
func (n *NamedLocks[K]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.locks)
}
