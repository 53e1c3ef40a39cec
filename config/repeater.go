package config

import (
	"fmt"
	"time"
)

// RepeaterConfig 信标转发器配置
type RepeaterConfig struct {
	// Enabled 客户端是否向本机转发器注册
	Enabled bool `json:"enabled"`

	// RegistrationPeriod 注册重试周期
	RegistrationPeriod Duration `json:"registration_period"`
}

// DefaultRepeaterConfig 返回默认转发器配置
func DefaultRepeaterConfig() RepeaterConfig {
	return RepeaterConfig{
		Enabled:            true,
		RegistrationPeriod: Duration(60 * time.Second),
	}
}

// Validate 验证转发器配置
func (c RepeaterConfig) Validate() error {
	if c.Enabled && c.RegistrationPeriod <= 0 {
		return fmt.Errorf("repeater: registration_period must be positive")
	}
	return nil
}
