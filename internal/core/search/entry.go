package search

import (
	"container/list"
	"sync/atomic"
)

const (
	noTier = -1
)

// Searcher 可被搜索的通道
type Searcher interface {
	// SearchName 通道名
	SearchName() string
	// SearchCID 客户端通道 ID，用于匹配响应
	SearchCID() uint32
	// SearchEntry 通道内嵌的调度条目
	SearchEntry() *Entry
}

// Entry 调度条目，内嵌在通道中
//
// tier 与 elem 只在所在层的锁内修改；条目被节拍取出发送期间 elem 为 nil，
// tier 仍指向来源层。
type Entry struct {
	tier atomic.Int32
	elem *list.Element

	tierAttempts int
	attempts     int
	sweepGen     uint64

	lastAccepted atomic.Uint32
}

// NewEntry 创建未注册的条目
func NewEntry() *Entry {
	e := &Entry{}
	e.tier.Store(noTier)
	return e
}

// Tier 当前所在层，未注册时为 -1
func (e *Entry) Tier() int { return int(e.tier.Load()) }

// Registered 是否在调度中
func (e *Entry) Registered() bool { return e.tier.Load() != noTier }
