package registry

import (
	"sync"

	"github.com/dep2p/go-chanaccess/pkg/types"
)

// ChannelKey 通道标识
type ChannelKey struct {
	Name     string
	Priority types.Priority
}

// RefCounted 可被注册表共享的通道
type RefCounted interface {
	comparable
	// Retain 增加引用计数；通道已关闭时返回 false
	Retain() bool
}

// Channels 通道注册表
type Channels[T RefCounted] struct {
	mu sync.Mutex
	m  map[ChannelKey]T
}

// NewChannels 创建通道注册表
func NewChannels[T RefCounted]() *Channels[T] {
	return &Channels[T]{m: make(map[ChannelKey]T)}
}

// Acquire 返回键对应的通道并增加引用，不存在或已关闭时调用 create
//
// create 返回的通道引用计数应为 1。
func (r *Channels[T]) Acquire(key ChannelKey, create func() (T, error)) (T, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.m[key]; ok {
		if ch.Retain() {
			return ch, false, nil
		}
		delete(r.m, key)
	}
	ch, err := create()
	if err != nil {
		var zero T
		return zero, false, err
	}
	r.m[key] = ch
	return ch, true, nil
}

// Get 查找通道（不增加引用）
func (r *Channels[T]) Get(key ChannelKey) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.m[key]
	return ch, ok
}

// Remove 移除通道，仅当注册的正是 ch 时生效
func (r *Channels[T]) Remove(key ChannelKey, ch T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[key]; ok && cur == ch {
		delete(r.m, key)
		return true
	}
	return false
}

// All 返回所有通道
func (r *Channels[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.m))
	for _, ch := range r.m {
		out = append(out, ch)
	}
	return out
}

// Len 通道数量
func (r *Channels[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
