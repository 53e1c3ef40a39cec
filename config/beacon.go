package config

import "fmt"

// BeaconConfig 信标监视器配置
type BeaconConfig struct {
	// MaxRecords 最多跟踪的服务端数量（LRU 淘汰）
	MaxRecords int `json:"max_records"`
}

// DefaultBeaconConfig 返回默认信标配置
func DefaultBeaconConfig() BeaconConfig {
	return BeaconConfig{MaxRecords: 4096}
}

// Validate 验证信标配置
func (c BeaconConfig) Validate() error {
	if c.MaxRecords <= 0 {
		return fmt.Errorf("beacon: max_records must be positive")
	}
	return nil
}
