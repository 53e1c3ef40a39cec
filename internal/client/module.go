package client

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	// Config 统一配置（可选，缺省使用默认配置）
	Config *config.Config `optional:"true"`

	// Metrics 指标收集器（可选）
	Metrics *metrics.Collector `optional:"true"`

	// InstanceID 实例 ID（可选）
	InstanceID string `name:"instance_id" optional:"true"`
}

// ============================================================================
//                              模块输出服务
// ============================================================================

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	// Context 客户端上下文
	Context *Context
}

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	ctx, err := New(ConfigFromUnified(input.Config), Deps{
		ID:      input.InstanceID,
		Metrics: input.Metrics,
	})
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Context: ctx}, nil
}

// ============================================================================
//                              模块定义
// ============================================================================

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("client",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In

	LC      fx.Lifecycle
	Context *Context
}

// registerLifecycle 注册生命周期
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("客户端模块启动", "id", input.Context.ID())
			input.Context.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			logger.Info("客户端模块停止", "id", input.Context.ID())
			return input.Context.Destroy()
		},
	})
}

// ============================================================================
//                              模块元信息
// ============================================================================

// 模块元信息常量
const (
	// Version 模块版本
	Version = "1.0.0"
	// Name 模块名称
	Name = "client"
	// Description 模块描述
	Description = "Channel Access 客户端上下文，提供搜索、虚拟电路与通道操作"
)
