package chanaccess

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/internal/client"
	"github.com/dep2p/go-chanaccess/internal/core/lifecycle"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/internal/server"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
)

var logger = log.Logger("chanaccess")

// role 组装目标
type role int

const (
	roleClient role = iota
	roleServer
)

func (r role) String() string {
	if r == roleServer {
		return "server"
	}
	return "client"
}

// assembly fx 组装结果
type assembly struct {
	app         *fx.App
	instanceID  string
	coordinator *lifecycle.Coordinator
	collector   *metrics.Collector
	client      *client.Context
	server      *server.Context
}

// buildFxApp 构建 Fx 应用
//
// 加载顺序：
//  1. 配置与实例 ID 注入
//  2. 指标模块（关闭时提供 nil 收集器）
//  3. 客户端或服务端上下文
//  4. 生命周期协调器（须在上下文之后，使其启动钩子晚于上下文启动）
//  5. 用户自定义 fx 选项
func buildFxApp(cfg *config.Config, o *options, r role, hooks interfaces.Server) (*assembly, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置注入
	// ════════════════════════════════════════════════════════════════════════
	id := o.instanceID
	if id == "" {
		id = uuid.NewString()
	}
	asm := &assembly{instanceID: id}

	modules := []fx.Option{
		fx.Supply(cfg),
		fx.Provide(fx.Annotated{
			Name:   "instance_id",
			Target: func() string { return id },
		}),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 指标
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, metrics.Module)

	// ════════════════════════════════════════════════════════════════════════
	// 3. 上下文
	// ════════════════════════════════════════════════════════════════════════
	switch r {
	case roleServer:
		if hooks == nil {
			return nil, ErrNoHooks
		}
		modules = append(modules,
			fx.Provide(func() interfaces.Server { return hooks }),
			server.Module(),
			fx.Populate(&asm.server),
		)
	default:
		modules = append(modules,
			client.Module(),
			fx.Populate(&asm.client),
		)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 生命周期协调器
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		lifecycle.Module(),
		fx.Populate(&asm.coordinator, &asm.collector),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 5. 用户扩展
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, o.fxOptions...)

	// fx 自身的日志噪声较大，统一静默
	modules = append(modules,
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		logger.Error("组装失败", "role", r.String(), "error", err)
		return nil, fmt.Errorf("build %s: %w", r, err)
	}
	asm.app = app
	logger.Debug("组装完成", "role", r.String(), "instance", log.TruncateID(id, 8), "metrics", asm.collector != nil)
	return asm, nil
}
