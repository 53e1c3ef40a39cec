package dispatch

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
)

var logger = log.Logger("core/dispatch")

// 分发方式
const (
	ModeDirect = "direct"
	ModeQueued = "queued"
)

// New 按名称创建分发器
func New(mode string) (interfaces.Dispatcher, error) {
	switch mode {
	case ModeDirect:
		return NewDirect(), nil
	case ModeQueued, "":
		return NewQueued(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// ============================================================================
//                              Direct
// ============================================================================

// Direct 直接分发器
type Direct struct {
	closed atomic.Bool
	panics atomic.Int64
}

var _ interfaces.Dispatcher = (*Direct)(nil)

// NewDirect 创建直接分发器
func NewDirect() *Direct {
	return &Direct{}
}

// Dispatch 在当前协程执行 fn
func (d *Direct) Dispatch(fn func()) {
	if d.closed.Load() {
		return
	}
	if !safeCall(fn) {
		d.panics.Add(1)
	}
}

// Panics 已恢复的 panic 次数
func (d *Direct) Panics() int64 { return d.panics.Load() }

// Close 关闭分发器
func (d *Direct) Close() error {
	d.closed.Store(true)
	return nil
}

// ============================================================================
//                              Queued
// ============================================================================

// Queued 队列分发器
type Queued struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	done   chan struct{}
	panics atomic.Int64
}

var _ interfaces.Dispatcher = (*Queued)(nil)

// NewQueued 创建队列分发器并启动分发协程
func NewQueued() *Queued {
	q := &Queued{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Dispatch 将 fn 入队；关闭后丢弃
func (q *Queued) Dispatch(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, fn)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pending 尚未执行的回调数
func (q *Queued) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Panics 已恢复的 panic 次数
func (q *Queued) Panics() int64 { return q.panics.Load() }

func (q *Queued) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.queue) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.queue
		q.queue = nil
		q.mu.Unlock()

		for _, fn := range batch {
			if !safeCall(fn) {
				q.panics.Add(1)
			}
		}
	}
}

// Close 停止接收新回调，执行完已入队回调后返回
//
// 不要在回调内部调用 Close。
func (q *Queued) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	<-q.done
	return nil
}

// safeCall 执行回调并恢复 panic，发生 panic 时返回 false
func safeCall(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logger.Error("监听器 panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
	return true
}
