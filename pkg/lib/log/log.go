// Package log 提供 go-chanaccess 统一日志接口
//
// 基于 Go 标准库 log/slog 封装。各组件通过 Logger(component) 获取
// 一个懒加载的 logger，每次调用时都使用当前的 slog.Default()，
// 因此可以在运行时切换输出目标与级别。
package log

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvLogLevel 日志级别环境变量（debug/info/warn/error）
const EnvLogLevel = "CA_LOG_LEVEL"

// 日志级别常量
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// levelVar 全局动态级别
var levelVar = new(slog.LevelVar)

// SetDefault 设置默认 logger
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// New 创建文本格式 logger，级别跟随全局动态级别
func New(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar}))
}

// NewJSON 创建 JSON 格式 logger，级别跟随全局动态级别
func NewJSON(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar}))
}

// SetOutput 将默认 logger 输出重定向到 w
func SetOutput(w io.Writer) {
	slog.SetDefault(New(w))
}

// SetLevel 设置全局日志级别
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// ParseLevel 解析级别字符串，无法识别时返回 LevelInfo 与 false
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
//	var logger = log.Logger("core/circuit")
//	logger.Info("虚拟电路已建立", "remote", addr)
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) base() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) { l.base().Debug(msg, args...) }

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) { l.base().Info(msg, args...) }

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) { l.base().Warn(msg, args...) }

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) { l.base().Error(msg, args...) }

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.base().DebugContext(ctx, msg, args...)
}

// Enabled 判断指定级别是否会输出，用于避免构造昂贵的日志参数
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return slog.Default().Enabled(context.Background(), level)
}

// With 添加额外属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.base().With(args...)
}

// ============================================================================
//                              工具函数
// ============================================================================

// HexDump 返回帧内容的十六进制转储，最多 max 字节
//
// 仅在 Debug 级别使用。
func HexDump(b []byte, max int) string {
	if max > 0 && len(b) > max {
		b = b[:max]
	}
	return hex.Dump(b)
}

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

// ============================================================================
//                              初始化
// ============================================================================

func init() {
	levelVar.Set(LevelInfo)
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		levelVar.Set(lvl)
	}
	slog.SetDefault(New(os.Stderr))
}
