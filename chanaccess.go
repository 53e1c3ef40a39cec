package chanaccess

import (
	"github.com/dep2p/go-chanaccess/internal/client"
	"github.com/dep2p/go-chanaccess/internal/server"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "go-chanaccess " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

// Channel 客户端通道
type Channel = client.Channel

// Monitor 客户端订阅
type Monitor = client.Monitor

// ConnectionListener 通道连接事件监听器
type ConnectionListener = client.ConnectionListener

// ExceptionListener 上下文异常监听器
type ExceptionListener = client.ExceptionListener

// ProcessVariable 服务端承载的数据点
type ProcessVariable = interfaces.ProcessVariable

// Hooks 服务端名称解析钩子
type Hooks = interfaces.Server

// MemoryProcessVariable 内存数据点
type MemoryProcessVariable = server.MemoryProcessVariable

// DefaultServer 基于名称表的钩子实现
type DefaultServer = server.DefaultServer

// Value 带类型的 DBR 值
type Value = types.Value

// NewMemoryProcessVariable 创建内存数据点
//
// 示例：
//
//	v, _ := dbr.FromFloats(dbr.Double, []float64{1.5})
//	pv, err := chanaccess.NewMemoryProcessVariable("demo:ai", v, types.AccessReadWrite)
func NewMemoryProcessVariable(name string, initial types.Value, rights types.AccessRights) (*MemoryProcessVariable, error) {
	return server.NewMemoryProcessVariable(name, initial, rights)
}

// NewDefaultServer 创建空名称表
func NewDefaultServer() *DefaultServer {
	return server.NewDefaultServer()
}
