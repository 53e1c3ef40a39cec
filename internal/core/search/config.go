package search

import (
	"fmt"
	"math"
	"time"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// Config 调度器配置
type Config struct {
	Tick            time.Duration
	TierCount       int
	InitialInterval time.Duration
	GrowthFactor    float64
	MaxInterval     time.Duration
	AttemptsPerTier int
	BatchSize       int
	MaxAttempts     int

	// DatagramRate 每秒最多发送的数据报（0 = 不限制）
	DatagramRate  float64
	DatagramBurst int

	// MaxDatagram 单个数据报最大长度
	MaxDatagram int
	// Minor 写入搜索请求的本端次版本
	Minor uint16
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return fromSection(config.DefaultSearchConfig())
}

// ConfigFromUnified 从统一配置创建调度器配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return fromSection(cfg.Search)
}

func fromSection(s config.SearchConfig) Config {
	return Config{
		Tick:            s.Tick.Duration(),
		TierCount:       s.TierCount,
		InitialInterval: s.InitialInterval.Duration(),
		GrowthFactor:    s.GrowthFactor,
		MaxInterval:     s.MaxInterval.Duration(),
		AttemptsPerTier: s.AttemptsPerTier,
		BatchSize:       s.BatchSize,
		MaxAttempts:     s.MaxAttempts,
		DatagramRate:    s.DatagramRate,
		DatagramBurst:   s.DatagramBurst,
		MaxDatagram:     protocol.MaxUDPSend,
		Minor:           protocol.MinorRevision,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.Tick <= 0 || c.InitialInterval <= 0 || c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("%w: intervals", ErrInvalidConfig)
	}
	if c.TierCount <= 0 || c.GrowthFactor < 1 {
		return fmt.Errorf("%w: tiers", ErrInvalidConfig)
	}
	if c.AttemptsPerTier <= 0 || c.BatchSize <= 0 || c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: attempt limits", ErrInvalidConfig)
	}
	if c.MaxDatagram < protocol.HeaderSize*2 {
		return fmt.Errorf("%w: max datagram %d", ErrInvalidConfig, c.MaxDatagram)
	}
	return nil
}

// TierPeriod 第 i 层的周期
func (c Config) TierPeriod(i int) time.Duration {
	p := float64(c.InitialInterval) * math.Pow(c.GrowthFactor, float64(i))
	if p > float64(c.MaxInterval) || math.IsInf(p, 0) {
		return c.MaxInterval
	}
	return time.Duration(p)
}
