package lifecycle

import (
	"context"

	"go.uber.org/fx"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	// InstanceID 实例 ID（可选）
	InstanceID string `name:"instance_id" optional:"true"`
}

// ProvideCoordinator 提供协调器；构建完成即视为已绑定
func ProvideCoordinator(input ModuleInput) *Coordinator {
	c := NewCoordinator(input.InstanceID)
	_ = c.AdvanceTo(PhaseBound)
	return c
}

// Module 返回 fx 模块
//
// 须放在客户端或服务端模块之后：启动钩子在上下文启动后推进到 running，
// 停止钩子在上下文销毁前推进到 stopping。
func Module() fx.Option {
	return fx.Module("lifecycle",
		fx.Provide(ProvideCoordinator),
		fx.Invoke(registerLifecycleHooks),
	)
}

type lifecycleHooksParams struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Coordinator *Coordinator
}

func registerLifecycleHooks(params lifecycleHooksParams) {
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return params.Coordinator.AdvanceTo(PhaseRunning)
		},
		OnStop: func(_ context.Context) error {
			return params.Coordinator.AdvanceTo(PhaseStopping)
		},
	})
}
