package server

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	// Config 统一配置（可选）
	Config *config.Config `optional:"true"`

	// Hooks 服务端钩子
	Hooks interfaces.Server

	// Metrics 指标收集器（可选）
	Metrics *metrics.Collector `optional:"true"`

	// InstanceID 实例 ID（可选）
	InstanceID string `name:"instance_id" optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	// Context 服务端上下文
	Context *Context
}

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	srv, err := New(ConfigFromUnified(input.Config), input.Hooks, Deps{
		ID:      input.InstanceID,
		Metrics: input.Metrics,
	})
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Context: srv}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("server",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

type lifecycleInput struct {
	fx.In

	LC      fx.Lifecycle
	Context *Context
}

func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("服务端模块启动", "port", input.Context.Port())
			input.Context.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			logger.Info("服务端模块停止")
			return input.Context.Destroy()
		},
	})
}

// 模块元信息常量
const (
	// Version 模块版本
	Version = "1.0.0"
	// Name 模块名称
	Name = "server"
	// Description 模块描述
	Description = "Channel Access 服务端上下文，提供搜索应答、会话与信标"
)
