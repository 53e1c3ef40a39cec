package config

import (
	"fmt"
	"time"
)

// CircuitConfig 虚拟电路配置
type CircuitConfig struct {
	// EchoTimeout 回显探测超时
	EchoTimeout Duration `json:"echo_timeout"`

	// FlushRetries 部分写重试次数
	FlushRetries int `json:"flush_retries"`

	// WriteTimeout 单次写超时，超时视为部分写
	WriteTimeout Duration `json:"write_timeout"`

	// SendBufferSize 发送缓冲区容量
	SendBufferSize int `json:"send_buffer_size"`

	// FlowControlThreshold 连续满读多少次后暂停订阅推送
	FlowControlThreshold int `json:"flow_control_threshold"`
}

// DefaultCircuitConfig 返回默认电路配置
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		EchoTimeout:          Duration(5 * time.Second),
		FlushRetries:         10,
		WriteTimeout:         Duration(time.Second),
		SendBufferSize:       1024*16 + 24,
		FlowControlThreshold: 4,
	}
}

// Validate 验证电路配置
func (c CircuitConfig) Validate() error {
	if c.EchoTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("circuit: echo_timeout and write_timeout must be positive")
	}
	if c.FlushRetries <= 0 {
		return fmt.Errorf("circuit: flush_retries must be positive")
	}
	if c.SendBufferSize < 1024 {
		return fmt.Errorf("circuit: send_buffer_size too small: %d", c.SendBufferSize)
	}
	if c.FlowControlThreshold <= 0 {
		return fmt.Errorf("circuit: flow_control_threshold must be positive")
	}
	return nil
}
