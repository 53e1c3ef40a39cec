package config

import (
	"fmt"

	"github.com/dep2p/go-chanaccess/pkg/lib/log"
)

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug/info/warn/error
	Level string `json:"level"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info"}
}

// Validate 验证日志配置
func (c LogConfig) Validate() error {
	if _, ok := log.ParseLevel(c.Level); !ok {
		return fmt.Errorf("log: unknown level %q", c.Level)
	}
	return nil
}

// Apply 应用日志级别
func (c LogConfig) Apply() {
	if lvl, ok := log.ParseLevel(c.Level); ok {
		log.SetLevel(lvl)
	}
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否注册指标
	Enabled bool `json:"enabled"`

	// Namespace 指标名前缀
	Namespace string `json:"namespace"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "ca"}
}
