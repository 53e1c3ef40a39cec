package client

import (
	"fmt"
	"time"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/internal/core/circuit"
	"github.com/dep2p/go-chanaccess/internal/core/search"
)

// Config 客户端上下文配置
type Config struct {
	// AddrList 显式搜索目标
	AddrList []string
	// AutoAddrList 自动加入本机广播地址
	AutoAddrList bool
	// ServerPort 搜索目标默认端口
	ServerPort int

	// RepeaterEnabled 是否向本机转发器注册
	RepeaterEnabled bool
	// RepeaterPort 本机转发器端口
	RepeaterPort int
	// RegistrationPeriod 转发器注册周期
	RegistrationPeriod time.Duration

	// CreateTimeout 创建通道超时
	CreateTimeout time.Duration
	// ConnectTimeout TCP 建连超时
	ConnectTimeout time.Duration

	// UserName / HostName 握手时发送给服务端
	UserName string
	HostName string

	// SingleThreaded 刷新在调用者协程同步执行
	SingleThreaded bool
	// Workers 刷新工作池大小
	Workers int
	// SendBufferSize 发送缓冲区容量
	SendBufferSize int
	// Dispatch 回调分发方式
	Dispatch string

	// BeaconRecords 信标监视器最多跟踪的服务端数量
	BeaconRecords int

	Search  search.Config
	Circuit circuit.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(config.NewConfig())
}

// ConfigFromUnified 从统一配置创建客户端配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	c := cfg.Client
	return Config{
		AddrList:           append([]string(nil), c.AddrList...),
		AutoAddrList:       c.AutoAddrList,
		ServerPort:         c.ServerPort,
		RepeaterEnabled:    cfg.Repeater.Enabled,
		RepeaterPort:       c.RepeaterPort,
		RegistrationPeriod: cfg.Repeater.RegistrationPeriod.Duration(),
		CreateTimeout:      c.CreateTimeout.Duration(),
		ConnectTimeout:     c.ConnectTimeout.Duration(),
		UserName:           c.UserName,
		HostName:           c.HostName,
		SingleThreaded:     c.SingleThreaded,
		Workers:            c.Workers,
		SendBufferSize:     cfg.Circuit.SendBufferSize,
		Dispatch:           c.Dispatch,
		BeaconRecords:      cfg.Beacon.MaxRecords,
		Search:             search.ConfigFromUnified(cfg),
		Circuit:            circuit.ClientConfigFromUnified(cfg),
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 0xFFFF {
		return fmt.Errorf("%w: server port %d", ErrInvalidConfig, c.ServerPort)
	}
	if c.RepeaterEnabled && (c.RepeaterPort <= 0 || c.RepeaterPort > 0xFFFF || c.RegistrationPeriod <= 0) {
		return fmt.Errorf("%w: repeater", ErrInvalidConfig)
	}
	if c.CreateTimeout <= 0 || c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: timeouts", ErrInvalidConfig)
	}
	if !c.SingleThreaded && c.Workers <= 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	}
	if c.SendBufferSize <= 0 || c.BeaconRecords <= 0 {
		return fmt.Errorf("%w: sizes", ErrInvalidConfig)
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	return c.Circuit.Validate()
}
