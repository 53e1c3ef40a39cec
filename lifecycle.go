package chanaccess

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-chanaccess/internal/core/lifecycle"
)

// 超时常量
const (
	defaultStartTimeout = 15 * time.Second
	stopTimeout         = 10 * time.Second
)

// Phase 生命周期阶段
type Phase = lifecycle.Phase

// 生命周期阶段
const (
	PhaseCreated  = lifecycle.PhaseCreated
	PhaseBound    = lifecycle.PhaseBound
	PhaseRunning  = lifecycle.PhaseRunning
	PhaseStopping = lifecycle.PhaseStopping
	PhaseStopped  = lifecycle.PhaseStopped
)

// instance 客户端与服务端共用的启动停止逻辑
type instance struct {
	app   *fx.App
	coord *lifecycle.Coordinator
	id    string

	mu     sync.Mutex
	closed bool
}

func (r *instance) init(asm *assembly) {
	r.app = asm.app
	r.coord = asm.coordinator
	r.id = asm.instanceID
}

// start 启动 Fx 应用（调用所有模块的 OnStart）
func (r *instance) start(ctx context.Context, timeout time.Duration) error {
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.app.Start(startCtx); err != nil {
		logger.Error("启动失败", "instance", r.id, "error", err)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = r.app.Stop(stopCtx)
		_ = r.coord.AdvanceTo(lifecycle.PhaseStopped)
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// Close 停止并释放所有资源，可重复调用
func (r *instance) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := r.app.Stop(ctx)
	_ = r.coord.AdvanceTo(lifecycle.PhaseStopped)
	if err != nil {
		logger.Warn("停止时出错", "instance", r.id, "error", err)
		return fmt.Errorf("stop: %w", err)
	}
	logger.Info("实例已关闭", "instance", r.id)
	return nil
}

// Closed 是否已关闭
func (r *instance) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ID 实例 ID
func (r *instance) ID() string { return r.id }

// Phase 当前生命周期阶段
func (r *instance) Phase() Phase { return r.coord.Phase() }

// WaitFor 等待目标阶段完成或 ctx 取消
func (r *instance) WaitFor(ctx context.Context, phase Phase) error {
	return r.coord.WaitFor(ctx, phase)
}

// Done 停止完成信号
func (r *instance) Done() <-chan struct{} { return r.coord.Done(lifecycle.PhaseStopped) }
