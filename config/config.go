// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义：
//   - client.go   - 客户端上下文（地址列表、超时、执行模式）
//   - server.go   - 服务端上下文（监听接口、信标地址列表）
//   - search.go   - 搜索调度器（层级退避参数）
//   - circuit.go  - 虚拟电路（回显、刷新重试、流控）
//   - beacon.go   - 信标监视器
//   - repeater.go - 信标转发器
//   - log.go      - 日志与指标
//
// 配置在上下文构建时解析一次，之后不可变。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	if err := cfg.ApplyOSEnv(); err != nil { ... }
//	cfg.Client.AddrList = []string{"10.0.0.255"}
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

import "errors"

// Config go-chanaccess 的完整配置
type Config struct {
	// Client 客户端配置
	Client ClientConfig `json:"client"`

	// Server 服务端配置
	Server ServerConfig `json:"server"`

	// Search 搜索调度器配置
	Search SearchConfig `json:"search"`

	// Circuit 虚拟电路配置
	Circuit CircuitConfig `json:"circuit"`

	// Beacon 信标监视器配置
	Beacon BeaconConfig `json:"beacon"`

	// Repeater 转发器配置
	Repeater RepeaterConfig `json:"repeater"`

	// Log 日志配置
	Log LogConfig `json:"log"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Client:   DefaultClientConfig(),
		Server:   DefaultServerConfig(),
		Search:   DefaultSearchConfig(),
		Circuit:  DefaultCircuitConfig(),
		Beacon:   DefaultBeaconConfig(),
		Repeater: DefaultRepeaterConfig(),
		Log:      DefaultLogConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// Validate 验证所有子配置
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	validators := []func() error{
		c.Client.Validate,
		c.Server.Validate,
		c.Search.Validate,
		c.Circuit.Validate,
		c.Beacon.Validate,
		c.Repeater.Validate,
		c.Log.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Clone 深拷贝配置
func (c *Config) Clone() *Config {
	out := *c
	out.Client.AddrList = append([]string(nil), c.Client.AddrList...)
	out.Server.BeaconAddrList = append([]string(nil), c.Server.BeaconAddrList...)
	out.Server.IgnoreAddrList = append([]string(nil), c.Server.IgnoreAddrList...)
	return &out
}
