package server

import (
	"fmt"
	"net"
	"time"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/internal/core/circuit"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// Config 服务端上下文配置
type Config struct {
	// InterfaceAddr 监听接口
	InterfaceAddr string
	// Port TCP 与 UDP 搜索端口，0 表示随机
	Port int

	// BeaconAddrList 信标目标
	BeaconAddrList []string
	// AutoBeaconAddrList 自动加入本机广播地址
	AutoBeaconAddrList bool
	// BeaconPeriod 信标最大周期
	BeaconPeriod time.Duration
	// RepeaterPort 信标目标端口（转发器端口）
	RepeaterPort int

	// IgnoreAddrList 忽略来自这些地址的搜索
	IgnoreAddrList []string

	// Workers 刷新工作池大小
	Workers int
	// SendBufferSize 发送缓冲区容量
	SendBufferSize int

	Circuit circuit.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(config.NewConfig())
}

// ConfigFromUnified 从统一配置创建服务端配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	s := cfg.Server
	return Config{
		InterfaceAddr:      s.InterfaceAddr,
		Port:               s.Port,
		BeaconAddrList:     append([]string(nil), s.BeaconAddrList...),
		AutoBeaconAddrList: s.AutoBeaconAddrList,
		BeaconPeriod:       s.BeaconPeriod.Duration(),
		RepeaterPort:       cfg.Client.RepeaterPort,
		IgnoreAddrList:     append([]string(nil), s.IgnoreAddrList...),
		Workers:            s.Workers,
		SendBufferSize:     cfg.Circuit.SendBufferSize,
		Circuit:            circuit.ServerConfigFromUnified(cfg),
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	ip := net.ParseIP(c.InterfaceAddr)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: interface %q", ErrInvalidConfig, c.InterfaceAddr)
	}
	if c.Port < 0 || c.Port > 0xFFFF {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.RepeaterPort <= 0 || c.RepeaterPort > 0xFFFF {
		return fmt.Errorf("%w: repeater port %d", ErrInvalidConfig, c.RepeaterPort)
	}
	if c.BeaconPeriod <= 0 {
		return fmt.Errorf("%w: beacon period", ErrInvalidConfig)
	}
	if c.Workers <= 0 || c.SendBufferSize < protocol.ExtendedHeaderSize {
		return fmt.Errorf("%w: workers %d send buffer %d", ErrInvalidConfig, c.Workers, c.SendBufferSize)
	}
	return c.Circuit.Validate()
}
