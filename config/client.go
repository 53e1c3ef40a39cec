package config

import (
	"fmt"
	"os"
	"os/user"
	"time"
)

// 最小数组字节数
const minMaxArrayBytes = 16384

// ClientConfig 客户端上下文配置
type ClientConfig struct {
	// AddrList 搜索目标地址列表（host 或 host:port）
	AddrList []string `json:"addr_list,omitempty"`

	// AutoAddrList 是否自动加入本机所有广播地址
	AutoAddrList bool `json:"auto_addr_list"`

	// ConnectionTimeout 电路空闲多久后发送回显探测
	ConnectionTimeout Duration `json:"connection_timeout"`

	// BeaconPeriod 服务端信标的期望周期
	BeaconPeriod Duration `json:"beacon_period"`

	// ServerPort 搜索目标端口
	ServerPort int `json:"server_port"`

	// RepeaterPort 本机转发器端口
	RepeaterPort int `json:"repeater_port"`

	// MaxArrayBytes 单帧负载上限
	MaxArrayBytes int `json:"max_array_bytes"`

	// SingleThreaded 单线程模式：刷新在调用者协程同步执行
	SingleThreaded bool `json:"single_threaded"`

	// Workers 刷新工作池大小
	Workers int `json:"workers"`

	// CreateTimeout 创建通道请求超时
	CreateTimeout Duration `json:"create_timeout"`

	// ConnectTimeout TCP 建连超时
	ConnectTimeout Duration `json:"connect_timeout"`

	// UserName 发送给服务端的用户名
	UserName string `json:"user_name,omitempty"`

	// HostName 发送给服务端的主机名
	HostName string `json:"host_name,omitempty"`

	// Dispatch 监听器分发方式："direct" 或 "queued"
	Dispatch string `json:"dispatch"`
}

// DefaultClientConfig 返回默认客户端配置
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		AutoAddrList:      true,
		ConnectionTimeout: Duration(30 * time.Second),
		BeaconPeriod:      Duration(15 * time.Second),
		ServerPort:        5064,
		RepeaterPort:      5065,
		MaxArrayBytes:     minMaxArrayBytes,
		Workers:           4,
		CreateTimeout:     Duration(5 * time.Second),
		ConnectTimeout:    Duration(5 * time.Second),
		UserName:          defaultUserName(),
		HostName:          defaultHostName(),
		Dispatch:          "queued",
	}
}

// Validate 验证客户端配置
func (c ClientConfig) Validate() error {
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("client: connection_timeout must be positive")
	}
	if c.BeaconPeriod <= 0 {
		return fmt.Errorf("client: beacon_period must be positive")
	}
	if err := validatePort("client: server_port", c.ServerPort); err != nil {
		return err
	}
	if err := validatePort("client: repeater_port", c.RepeaterPort); err != nil {
		return err
	}
	if c.MaxArrayBytes < minMaxArrayBytes {
		return fmt.Errorf("client: max_array_bytes must be >= %d", minMaxArrayBytes)
	}
	if !c.SingleThreaded && c.Workers <= 0 {
		return fmt.Errorf("client: workers must be positive in pooled mode")
	}
	if c.CreateTimeout <= 0 || c.ConnectTimeout <= 0 {
		return fmt.Errorf("client: create/connect timeout must be positive")
	}
	switch c.Dispatch {
	case "direct", "queued":
	default:
		return fmt.Errorf("client: unknown dispatch mode %q", c.Dispatch)
	}
	return nil
}

func validatePort(name string, p int) error {
	if p <= 0 || p > 0xFFFF {
		return fmt.Errorf("%s out of range: %d", name, p)
	}
	return nil
}

func defaultUserName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func defaultHostName() string {
	h, _ := os.Hostname()
	return h
}
