package chanaccess

import (
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-chanaccess/config"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 预设配置
	preset *Preset

	// 基础配置（WithConfig / WithConfigFile）
	base *config.Config

	// 是否读取 EPICS_CA_* 环境变量
	useEnv bool

	// 实例 ID，为空时自动生成
	instanceID string

	// 覆盖项，在预设、文件与环境变量之后按顺序应用
	overrides []func(*config.Config)

	// 额外的 fx 选项
	fxOptions []fx.Option

	// 启动超时
	startTimeout time.Duration
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{
		useEnv:       true,
		startTimeout: defaultStartTimeout,
	}
}

// apply 依次应用选项
func (o *options) apply(opts []Option) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// toInternalConfig 转换为内部配置
//
// 顺序：默认值或基础配置 → 预设 → 环境变量 → 覆盖项。
func (o *options) toInternalConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if o.base != nil {
		cfg = o.base.Clone()
	}

	if o.preset != nil {
		o.preset.Apply(cfg)
	}

	if o.useEnv {
		if err := cfg.ApplyOSEnv(); err != nil {
			return nil, fmt.Errorf("apply environment: %w", err)
		}
	}

	for _, fn := range o.overrides {
		fn(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.Log.Apply()
	return cfg, nil
}

// override 追加一个覆盖项
func override(fn func(*config.Config)) Option {
	return func(o *options) error {
		o.overrides = append(o.overrides, fn)
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置来源
// ════════════════════════════════════════════════════════════════════════════

// WithPreset 使用预设配置
//
// 示例：
//
//	c, err := chanaccess.NewClient(ctx, chanaccess.WithPreset(chanaccess.PresetLocal))
func WithPreset(preset *Preset) Option {
	return func(o *options) error {
		if preset == nil {
			return fmt.Errorf("%w: nil", ErrUnknownPreset)
		}
		o.preset = preset
		return nil
	}
}

// WithPresetName 按名称使用预设配置
func WithPresetName(name string) Option {
	return func(o *options) error {
		p, ok := GetPreset(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPreset, name)
		}
		o.preset = p
		return nil
	}
}

// WithConfig 使用完整配置作为基础
//
// 配置会被复制，调用者之后的修改不生效。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		o.base = cfg.Clone()
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载基础配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.base = cfg
		return nil
	}
}

// WithEnv 是否读取 EPICS_CA_* / EPICS_CAS_* 环境变量（默认读取）
func WithEnv(enable bool) Option {
	return func(o *options) error {
		o.useEnv = enable
		return nil
	}
}

// WithInstanceID 指定实例 ID
func WithInstanceID(id string) Option {
	return func(o *options) error {
		o.instanceID = id
		return nil
	}
}

// WithFxOptions 追加 fx 选项，用于注入自定义组件
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}

// WithStartTimeout 设置启动超时
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("start timeout must be positive")
		}
		o.startTimeout = d
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              客户端选项
// ════════════════════════════════════════════════════════════════════════════

// WithAddrList 设置搜索目标地址列表（host 或 host:port）
func WithAddrList(addrs ...string) Option {
	list := append([]string(nil), addrs...)
	return override(func(c *config.Config) { c.Client.AddrList = list })
}

// WithAutoAddrList 是否自动加入本机广播地址
func WithAutoAddrList(enable bool) Option {
	return override(func(c *config.Config) { c.Client.AutoAddrList = enable })
}

// WithServerPort 设置搜索目标端口与服务端监听端口
func WithServerPort(port int) Option {
	return override(func(c *config.Config) {
		c.Client.ServerPort = port
		c.Server.Port = port
	})
}

// WithRepeater 是否向本机转发器注册
func WithRepeater(enable bool) Option {
	return override(func(c *config.Config) { c.Repeater.Enabled = enable })
}

// WithRepeaterPort 设置转发器端口
func WithRepeaterPort(port int) Option {
	return override(func(c *config.Config) { c.Client.RepeaterPort = port })
}

// WithConnectionTimeout 电路空闲多久后发送回显探测
func WithConnectionTimeout(d time.Duration) Option {
	return override(func(c *config.Config) { c.Client.ConnectionTimeout = config.Duration(d) })
}

// WithSingleThreaded 单线程模式：请求在 Flush/PendIO/Poll 时由调用者协程发送
func WithSingleThreaded(enable bool) Option {
	return override(func(c *config.Config) { c.Client.SingleThreaded = enable })
}

// WithDispatch 设置监听器分发方式："direct" 或 "queued"
func WithDispatch(mode string) Option {
	return override(func(c *config.Config) { c.Client.Dispatch = mode })
}

// WithIdentity 设置发送给服务端的用户名与主机名
func WithIdentity(user, host string) Option {
	return override(func(c *config.Config) {
		if user != "" {
			c.Client.UserName = user
		}
		if host != "" {
			c.Client.HostName = host
		}
	})
}

// WithMaxArrayBytes 设置单帧负载上限
func WithMaxArrayBytes(n int) Option {
	return override(func(c *config.Config) {
		c.Client.MaxArrayBytes = n
		c.Server.MaxArrayBytes = n
	})
}

// ════════════════════════════════════════════════════════════════════════════
//                              服务端选项
// ════════════════════════════════════════════════════════════════════════════

// WithInterface 设置服务端监听接口地址
func WithInterface(addr string) Option {
	return override(func(c *config.Config) { c.Server.InterfaceAddr = addr })
}

// WithListenPort 仅设置服务端监听端口，0 表示随机 TCP 端口
func WithListenPort(port int) Option {
	return override(func(c *config.Config) { c.Server.Port = port })
}

// WithBeaconAddrList 设置信标目标地址列表
func WithBeaconAddrList(addrs ...string) Option {
	list := append([]string(nil), addrs...)
	return override(func(c *config.Config) { c.Server.BeaconAddrList = list })
}

// WithAutoBeaconAddrList 是否自动加入本机广播地址作为信标目标
func WithAutoBeaconAddrList(enable bool) Option {
	return override(func(c *config.Config) { c.Server.AutoBeaconAddrList = enable })
}

// WithBeaconPeriod 设置信标最大周期
func WithBeaconPeriod(d time.Duration) Option {
	return override(func(c *config.Config) { c.Server.BeaconPeriod = config.Duration(d) })
}

// WithIgnoreAddrList 忽略来自这些地址的搜索
func WithIgnoreAddrList(addrs ...string) Option {
	list := append([]string(nil), addrs...)
	return override(func(c *config.Config) { c.Server.IgnoreAddrList = list })
}

// ════════════════════════════════════════════════════════════════════════════
//                              日志与指标
// ════════════════════════════════════════════════════════════════════════════

// WithLogLevel 设置日志级别（debug/info/warn/error）
func WithLogLevel(level string) Option {
	return override(func(c *config.Config) { c.Log.Level = level })
}

// WithMetrics 是否注册 Prometheus 指标
func WithMetrics(enable bool) Option {
	return override(func(c *config.Config) { c.Metrics.Enabled = enable })
}

// WithMetricsNamespace 设置指标名前缀
func WithMetricsNamespace(ns string) Option {
	return override(func(c *config.Config) { c.Metrics.Namespace = ns })
}
