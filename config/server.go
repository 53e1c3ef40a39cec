package config

import (
	"fmt"
	"net"
	"time"
)

// ServerConfig 服务端上下文配置
type ServerConfig struct {
	// InterfaceAddr 监听接口地址
	InterfaceAddr string `json:"interface_addr"`

	// Port 监听端口（TCP 与 UDP 搜索），0 表示随机 TCP 端口
	Port int `json:"port"`

	// BeaconAddrList 信标目标地址列表
	BeaconAddrList []string `json:"beacon_addr_list,omitempty"`

	// AutoBeaconAddrList 是否自动加入本机广播地址
	AutoBeaconAddrList bool `json:"auto_beacon_addr_list"`

	// BeaconPeriod 信标最大周期
	BeaconPeriod Duration `json:"beacon_period"`

	// IgnoreAddrList 忽略来自这些地址的搜索
	IgnoreAddrList []string `json:"ignore_addr_list,omitempty"`

	// MaxArrayBytes 单帧负载上限
	MaxArrayBytes int `json:"max_array_bytes"`

	// Workers 刷新工作池大小
	Workers int `json:"workers"`
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		InterfaceAddr:      "0.0.0.0",
		Port:               5064,
		AutoBeaconAddrList: true,
		BeaconPeriod:       Duration(15 * time.Second),
		MaxArrayBytes:      minMaxArrayBytes,
		Workers:            4,
	}
}

// Validate 验证服务端配置
func (c ServerConfig) Validate() error {
	if net.ParseIP(c.InterfaceAddr) == nil {
		return fmt.Errorf("server: invalid interface_addr %q", c.InterfaceAddr)
	}
	if c.Port < 0 || c.Port > 0xFFFF {
		return fmt.Errorf("server: port out of range: %d", c.Port)
	}
	if c.BeaconPeriod <= 0 {
		return fmt.Errorf("server: beacon_period must be positive")
	}
	if c.MaxArrayBytes < minMaxArrayBytes {
		return fmt.Errorf("server: max_array_bytes must be >= %d", minMaxArrayBytes)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("server: workers must be positive")
	}
	return nil
}
