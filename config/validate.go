package config

import "errors"

// ValidateAll 验证整个配置的有效性
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// ValidateAndFix 验证配置并尝试自动修复常见问题
//
// 可修复的问题：
//   - 最大数组字节数过小 -> 提升到最小值
//   - 搜索初始周期大于上限 -> 交换
//   - 工作池大小为 0 -> 使用默认值
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	if c.Client.MaxArrayBytes < minMaxArrayBytes {
		c.Client.MaxArrayBytes = minMaxArrayBytes
	}
	if c.Server.MaxArrayBytes < minMaxArrayBytes {
		c.Server.MaxArrayBytes = minMaxArrayBytes
	}
	if c.Search.InitialInterval > c.Search.MaxInterval {
		c.Search.InitialInterval, c.Search.MaxInterval = c.Search.MaxInterval, c.Search.InitialInterval
	}
	if c.Client.Workers <= 0 {
		c.Client.Workers = DefaultClientConfig().Workers
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = DefaultServerConfig().Workers
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
