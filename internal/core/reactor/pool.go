package reactor

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-chanaccess/pkg/lib/log"
)

var logger = log.Logger("core/reactor")

// Executor 任务执行器
type Executor interface {
	// Execute 提交任务；执行器关闭后返回 ErrPoolClosed
	Execute(task func()) error
}

// ============================================================================
//                              Inline
// ============================================================================

// Inline 在调用方协程同步执行任务
type Inline struct{}

// Execute 立即执行任务
func (Inline) Execute(task func()) error {
	runTask(task)
	return nil
}

// ============================================================================
//                              Pool
// ============================================================================

// Pool 有界工作池
type Pool struct {
	workers int
	tasks   chan func()
	group   errgroup.Group

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	executed  atomic.Uint64
	overflow  atomic.Uint64
}

// NewPool 创建 workers 个工作协程的工作池，queue 为任务队列长度
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, ErrInvalidWorkers
	}
	if queue <= 0 {
		queue = workers * 64
	}
	p := &Pool{
		workers: workers,
		tasks:   make(chan func(), queue),
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.worker)
	}
	logger.Debug("工作池已启动", "workers", workers, "queue", queue)
	return p, nil
}

// Workers 工作协程数
func (p *Pool) Workers() int { return p.workers }

// Executed 已执行任务数
func (p *Pool) Executed() uint64 { return p.executed.Load() }

// Overflowed 队列满时由临时协程执行的任务数
func (p *Pool) Overflowed() uint64 { return p.overflow.Load() }

// Execute 提交任务，从不阻塞调用方
//
// 队列满时任务交给临时协程执行，Close 同样等待这些协程结束。
func (p *Pool) Execute(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
	default:
		p.overflow.Add(1)
		p.group.Go(func() error {
			runTask(task)
			p.executed.Add(1)
			return nil
		})
	}
	return nil
}

func (p *Pool) worker() error {
	for task := range p.tasks {
		runTask(task)
		p.executed.Add(1)
	}
	return nil
}

// Close 关闭工作池，执行完已入队的任务后返回
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		err = p.group.Wait()
		logger.Debug("工作池已关闭", "executed", p.executed.Load())
	})
	return err
}

// runTask 执行任务并恢复 panic
func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("任务 panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	task()
}
