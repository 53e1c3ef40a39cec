package config

import (
	"fmt"
	"time"
)

// SearchConfig 搜索调度器配置
//
// 第 i 层的周期为 InitialInterval * GrowthFactor^i，上限 MaxInterval。
type SearchConfig struct {
	// Tick 基础节拍
	Tick Duration `json:"tick"`

	// TierCount 层数
	TierCount int `json:"tier_count"`

	// InitialInterval 最快层周期
	InitialInterval Duration `json:"initial_interval"`

	// GrowthFactor 层间周期增长因子
	GrowthFactor float64 `json:"growth_factor"`

	// MaxInterval 最慢层周期上限
	MaxInterval Duration `json:"max_interval"`

	// AttemptsPerTier 每层发送次数，用尽后降到下一层
	AttemptsPerTier int `json:"attempts_per_tier"`

	// BatchSize 每个节拍每层最多处理的通道数
	BatchSize int `json:"batch_size"`

	// MaxAttempts 总尝试次数上限，达到后固定在最慢层
	MaxAttempts int `json:"max_attempts"`

	// DatagramRate 每秒最多发送的搜索数据报（0 = 不限制）
	DatagramRate float64 `json:"datagram_rate"`

	// DatagramBurst 数据报突发上限
	DatagramBurst int `json:"datagram_burst"`
}

// DefaultSearchConfig 返回默认搜索配置
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Tick:            Duration(16 * time.Millisecond),
		TierCount:       12,
		InitialInterval: Duration(32 * time.Millisecond),
		GrowthFactor:    2,
		MaxInterval:     Duration(60 * time.Second),
		AttemptsPerTier: 2,
		BatchSize:       256,
		MaxAttempts:     64,
		DatagramRate:    500,
		DatagramBurst:   64,
	}
}

// Validate 验证搜索配置
func (c SearchConfig) Validate() error {
	if c.Tick <= 0 || c.InitialInterval <= 0 || c.MaxInterval <= 0 {
		return fmt.Errorf("search: tick and intervals must be positive")
	}
	if c.InitialInterval > c.MaxInterval {
		return fmt.Errorf("search: initial_interval exceeds max_interval")
	}
	if c.TierCount <= 0 {
		return fmt.Errorf("search: tier_count must be positive")
	}
	if c.GrowthFactor < 1 {
		return fmt.Errorf("search: growth_factor must be >= 1")
	}
	if c.AttemptsPerTier <= 0 || c.BatchSize <= 0 || c.MaxAttempts <= 0 {
		return fmt.Errorf("search: attempts_per_tier, batch_size and max_attempts must be positive")
	}
	if c.DatagramRate < 0 || (c.DatagramRate > 0 && c.DatagramBurst <= 0) {
		return fmt.Errorf("search: invalid datagram rate limit")
	}
	return nil
}
