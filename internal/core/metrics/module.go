package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-chanaccess/config"
)

// Config 指标配置
type Config struct {
	// Enabled 是否启用指标收集
	Enabled bool

	// Namespace 指标名前缀
	Namespace string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: "ca",
	}
}

// ConfigFromUnified 从统一配置创建指标配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	c := Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
	}
	if c.Namespace == "" {
		c.Namespace = DefaultConfig().Namespace
	}
	return c
}

// Params 指标模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	InstanceID string         `name:"instance_id" optional:"true"`
}

// Module 指标 fx 模块
var Module = fx.Module("metrics",
	fx.Provide(NewCollectorFromParams),
)

// NewCollectorFromParams 从参数创建收集器，关闭指标时返回 nil
func NewCollectorFromParams(p Params) *Collector {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if !cfg.Enabled {
		return nil
	}
	return NewCollector(cfg, p.InstanceID)
}
