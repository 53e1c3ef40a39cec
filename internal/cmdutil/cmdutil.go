// Package cmdutil 命令行工具共用的参数与输出辅助
package cmdutil

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	chanaccess "github.com/dep2p/go-chanaccess"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
)

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 命令行参数：运行时覆盖（这次运行想怎么跑）
// JSON 配置文件与 EPICS_CA_* 环境变量：持久化配置
//
// ═══════════════════════════════════════════════════════════════════════════

// Common 各工具共用的参数
type Common struct {
	ConfigFile string
	Preset     string
	AddrList   string
	Port       int
	LogLevel   string
	LogFile    string
	LogJSON    bool
	Timeout    time.Duration
	Priority   uint
	Version    bool

	fs *flag.FlagSet
}

// Register 在 fs 上注册共用参数
func Register(fs *flag.FlagSet) *Common {
	c := &Common{fs: fs}
	fs.StringVar(&c.ConfigFile, "config", "", "JSON 配置文件路径")
	fs.StringVar(&c.Preset, "preset", "", "预设配置 ("+strings.Join(chanaccess.AvailablePresets(), "/")+")")
	fs.StringVar(&c.AddrList, "addr", "", "搜索地址列表，逗号分隔（覆盖 EPICS_CA_ADDR_LIST）")
	fs.IntVar(&c.Port, "port", 0, "服务端端口（0 = 使用配置）")
	fs.StringVar(&c.LogLevel, "log-level", "", "日志级别 (debug/info/warn/error)")
	fs.StringVar(&c.LogFile, "log", "", "日志文件路径（默认标准错误）")
	fs.BoolVar(&c.LogJSON, "log-json", false, "以 JSON 格式输出日志")
	fs.DurationVar(&c.Timeout, "w", 5*time.Second, "等待超时")
	fs.UintVar(&c.Priority, "p", 0, "通道优先级 (0-99)")
	fs.BoolVar(&c.Version, "version", false, "显示版本信息")
	return c
}

// isSet 参数是否显式给出
func (c *Common) isSet(name string) bool {
	set := false
	c.fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// Options 转换为 chanaccess 选项
//
// 配置优先级（从高到低）：
//  1. 命令行参数
//  2. 环境变量（EPICS_CA_* / EPICS_CAS_*）
//  3. 预设
//  4. 配置文件
func (c *Common) Options() ([]chanaccess.Option, error) {
	var opts []chanaccess.Option
	if c.ConfigFile != "" {
		opts = append(opts, chanaccess.WithConfigFile(c.ConfigFile))
	}
	if c.Preset != "" {
		if !chanaccess.IsValidPreset(c.Preset) {
			return nil, fmt.Errorf("未知预设: %s", c.Preset)
		}
		opts = append(opts, chanaccess.WithPresetName(c.Preset))
	}
	if c.AddrList != "" {
		opts = append(opts,
			chanaccess.WithAddrList(SplitList(c.AddrList)...),
			chanaccess.WithAutoAddrList(false),
		)
	}
	if c.isSet("port") {
		opts = append(opts, chanaccess.WithServerPort(c.Port))
	}
	if c.LogLevel != "" {
		opts = append(opts, chanaccess.WithLogLevel(c.LogLevel))
	}
	return opts, nil
}

// SetupLogging 按 -log / -log-json 参数设置日志输出，返回需在退出时关闭的文件
func (c *Common) SetupLogging() (io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer
	)
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // 用户指定的日志路径
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		out, closer = f, f
	}
	switch {
	case c.LogJSON:
		log.SetDefault(log.NewJSON(out))
	case closer != nil:
		log.SetOutput(out)
	}
	return closer, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 辅助函数
// ═══════════════════════════════════════════════════════════════════════════

// SplitList 按逗号或空白拆分列表
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// SignalContext 返回收到 SIGINT/SIGTERM 时取消的上下文
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Fatal 打印错误并退出
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	os.Exit(1)
}

// PrintVersion 打印版本信息
func PrintVersion(tool string) {
	fmt.Printf("%s (%s)\n", tool, chanaccess.VersionInfo())
}
