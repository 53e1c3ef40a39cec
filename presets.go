package chanaccess

import (
	"sort"
	"time"

	"github.com/dep2p/go-chanaccess/config"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置常量
// ════════════════════════════════════════════════════════════════════════════

// 预设名称常量
const (
	// PresetNameLAN 局域网预设名称
	PresetNameLAN = "lan"

	// PresetNameLocal 本机预设名称
	PresetNameLocal = "local"

	// PresetNameTest 测试预设名称
	PresetNameTest = "test"
)

// Preset 预设配置
type Preset struct {
	// Name 预设名称
	Name string

	// Description 描述
	Description string

	apply func(*config.Config)
}

// Apply 将预设应用到配置
func (p *Preset) Apply(cfg *config.Config) {
	if p == nil || p.apply == nil || cfg == nil {
		return
	}
	p.apply(cfg)
}

// ════════════════════════════════════════════════════════════════════════════
//                              预设定义
// ════════════════════════════════════════════════════════════════════════════

// PresetLAN 局域网预设
//
// 适用场景：控制网络中的 IOC 与操作员终端
// 特点：
//   - 自动使用本机所有广播地址搜索与发送信标
//   - 向本机转发器注册
//   - 默认端口 5064/5065
var PresetLAN = &Preset{
	Name:        PresetNameLAN,
	Description: "局域网广播搜索，使用转发器",
	apply: func(cfg *config.Config) {
		cfg.Client.AutoAddrList = true
		cfg.Server.AutoBeaconAddrList = true
		cfg.Repeater.Enabled = true
	},
}

// PresetLocal 本机预设
//
// 适用场景：客户端与服务端在同一主机
// 特点：
//   - 只向回环地址搜索与发送信标
//   - 服务端只监听回环接口
//   - 不使用转发器
//
// 示例：
//
//	s, err := chanaccess.NewServer(ctx, hooks, chanaccess.WithPreset(chanaccess.PresetLocal))
var PresetLocal = &Preset{
	Name:        PresetNameLocal,
	Description: "仅回环地址，不使用转发器",
	apply: func(cfg *config.Config) {
		cfg.Client.AddrList = []string{"127.0.0.1"}
		cfg.Client.AutoAddrList = false
		cfg.Server.InterfaceAddr = "127.0.0.1"
		cfg.Server.BeaconAddrList = []string{"127.0.0.1"}
		cfg.Server.AutoBeaconAddrList = false
		cfg.Repeater.Enabled = false
	},
}

// PresetTest 测试预设
//
// 在本机预设基础上缩短超时并关闭指标，服务端使用随机 TCP 端口。
// 搜索目标端口需由调用者用 WithServerPort 指定。
var PresetTest = &Preset{
	Name:        PresetNameTest,
	Description: "本机测试：短超时、关闭指标",
	apply: func(cfg *config.Config) {
		PresetLocal.Apply(cfg)
		cfg.Client.CreateTimeout = config.Duration(2 * time.Second)
		cfg.Client.ConnectTimeout = config.Duration(2 * time.Second)
		cfg.Client.UserName = "tester"
		cfg.Client.HostName = "localhost"
		cfg.Server.BeaconAddrList = nil
		cfg.Metrics.Enabled = false
	},
}

var presets = map[string]*Preset{
	PresetNameLAN:   PresetLAN,
	PresetNameLocal: PresetLocal,
	PresetNameTest:  PresetTest,
}

// ════════════════════════════════════════════════════════════════════════════
//                              预设查询
// ════════════════════════════════════════════════════════════════════════════

// GetPreset 按名称获取预设
func GetPreset(name string) (*Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// IsValidPreset 检查预设名称是否有效
func IsValidPreset(name string) bool {
	_, ok := presets[name]
	return ok
}

// AvailablePresets 返回所有预设名称（已排序）
func AvailablePresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
