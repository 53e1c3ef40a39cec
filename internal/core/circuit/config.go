package circuit

import (
	"fmt"
	"time"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

const (
	// maxWritePart 单次套接字写的最大字节数
	maxWritePart = 16000
	// defaultSendBufferSize 默认发送缓冲区容量
	defaultSendBufferSize = protocol.MaxTCPRecv
	// maxRetryDelay 写重试最大退避
	maxRetryDelay = 15 * time.Second
)

// Config 电路配置
type Config struct {
	// Priority 电路优先级
	Priority types.Priority

	// InitialMinor 版本交换前假定的对端次版本
	InitialMinor uint16

	// MaxArrayBytes 单帧负载上限，超过时关闭电路
	MaxArrayBytes int

	// RecvBufferSize 接收缓冲区大小
	RecvBufferSize int

	// IdleTimeout 空闲多久后发送回显探测（0 = 不启用看门狗）
	IdleTimeout time.Duration

	// EchoTimeout 回显探测超时
	EchoTimeout time.Duration

	// FlushRetries 部分写重试次数
	FlushRetries int

	// WriteTimeout 单次写超时
	WriteTimeout time.Duration

	// FlowControl 是否启用流控（客户端）
	FlowControl bool

	// FlowControlThreshold 连续满读阈值
	FlowControlThreshold int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		InitialMinor:         protocol.MinorRevision,
		MaxArrayBytes:        protocol.DefaultMaxArrayBytes,
		RecvBufferSize:       protocol.MaxTCPRecv,
		IdleTimeout:          protocol.DefaultConnectionTimeout,
		EchoTimeout:          protocol.EchoTimeout,
		FlushRetries:         10,
		WriteTimeout:         time.Second,
		FlowControl:          true,
		FlowControlThreshold: 4,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MaxArrayBytes <= 0 || c.RecvBufferSize < protocol.ExtendedHeaderSize {
		return fmt.Errorf("%w: buffer sizes", ErrInvalidConfig)
	}
	if c.IdleTimeout > 0 && c.EchoTimeout <= 0 {
		return fmt.Errorf("%w: echo timeout must be positive", ErrInvalidConfig)
	}
	if c.FlushRetries <= 0 {
		return fmt.Errorf("%w: flush retries must be positive", ErrInvalidConfig)
	}
	if c.FlowControl && c.FlowControlThreshold <= 0 {
		return fmt.Errorf("%w: flow control threshold must be positive", ErrInvalidConfig)
	}
	return nil
}

// ClientConfigFromUnified 从统一配置创建客户端电路配置
func ClientConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.MaxArrayBytes = cfg.Client.MaxArrayBytes
	c.IdleTimeout = cfg.Client.ConnectionTimeout.Duration()
	c.EchoTimeout = cfg.Circuit.EchoTimeout.Duration()
	c.FlushRetries = cfg.Circuit.FlushRetries
	c.WriteTimeout = cfg.Circuit.WriteTimeout.Duration()
	c.FlowControlThreshold = cfg.Circuit.FlowControlThreshold
	return c
}

// ServerConfigFromUnified 从统一配置创建服务端电路配置
//
// 服务端不运行看门狗，也不发起流控。
func ServerConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	c.IdleTimeout = 0
	c.FlowControl = false
	if cfg == nil {
		return c
	}
	c.MaxArrayBytes = cfg.Server.MaxArrayBytes
	c.FlushRetries = cfg.Circuit.FlushRetries
	c.WriteTimeout = cfg.Circuit.WriteTimeout.Duration()
	return c
}
