// Package lifecycle 提供上下文生命周期协调器
//
// 阶段只能向前推进：
//
//	created → bound → running → stopping → stopped
//
// 每个阶段对应一个完成信号，WaitFor 阻塞到目标阶段完成。
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/dep2p/go-chanaccess/pkg/lib/log"
)

var logger = log.Logger("core/lifecycle")

// ============================================================================
//                              阶段定义
// ============================================================================

// Phase 生命周期阶段
type Phase int

const (
	// PhaseCreated 已创建
	PhaseCreated Phase = iota
	// PhaseBound 套接字已绑定，组件已构建
	PhaseBound
	// PhaseRunning 收发已启动
	PhaseRunning
	// PhaseStopping 正在停止
	PhaseStopping
	// PhaseStopped 已停止
	PhaseStopped
)

var phaseNames = [...]string{"created", "bound", "running", "stopping", "stopped"}

// String 返回阶段名称
func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("unknown(%d)", int(p))
}

// ============================================================================
//                              协调器
// ============================================================================

// Coordinator 生命周期协调器
type Coordinator struct {
	name string

	mu            sync.RWMutex
	phase         Phase
	signals       [PhaseStopped + 1]chan struct{}
	onPhaseChange []PhaseChangeFunc
}

// NewCoordinator 创建协调器，name 用于日志
func NewCoordinator(name string) *Coordinator {
	c := &Coordinator{name: name, phase: PhaseCreated}
	for i := range c.signals {
		c.signals[i] = make(chan struct{})
	}
	close(c.signals[PhaseCreated])
	return c
}

// Phase 当前阶段
func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// PhaseChangeFunc 阶段变更回调
type PhaseChangeFunc func(old, new Phase)

// OnPhaseChange 注册阶段变更回调，回调在推进者的协程上同步调用
func (c *Coordinator) OnPhaseChange(fn PhaseChangeFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onPhaseChange = append(c.onPhaseChange, fn)
	c.mu.Unlock()
}

// AdvanceTo 推进到目标阶段，并完成途经阶段的信号
//
// 后退返回 ErrBackwards；目标与当前相同时无操作。
func (c *Coordinator) AdvanceTo(target Phase) error {
	if target < PhaseCreated || target > PhaseStopped {
		return fmt.Errorf("%w: %d", ErrInvalidPhase, int(target))
	}
	c.mu.Lock()
	if target < c.phase {
		cur := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrBackwards, cur, target)
	}
	if target == c.phase {
		c.mu.Unlock()
		return nil
	}
	old := c.phase
	for p := old + 1; p <= target; p++ {
		close(c.signals[p])
	}
	c.phase = target
	callbacks := append([]PhaseChangeFunc(nil), c.onPhaseChange...)
	c.mu.Unlock()

	logger.Debug("生命周期阶段推进", "name", c.name, "from", old.String(), "to", target.String())
	for _, cb := range callbacks {
		cb(old, target)
	}
	return nil
}

// WaitFor 等待目标阶段完成或 ctx 取消
func (c *Coordinator) WaitFor(ctx context.Context, phase Phase) error {
	if phase < PhaseCreated || phase > PhaseStopped {
		return fmt.Errorf("%w: %d", ErrInvalidPhase, int(phase))
	}
	select {
	case <-c.signals[phase]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done 目标阶段的完成信号
func (c *Coordinator) Done(phase Phase) <-chan struct{} {
	return c.signals[phase]
}

// IsCompleted 目标阶段是否已完成
func (c *Coordinator) IsCompleted(phase Phase) bool {
	if phase < PhaseCreated || phase > PhaseStopped {
		return false
	}
	select {
	case <-c.signals[phase]:
		return true
	default:
		return false
	}
}
