// Package interfaces 定义 go-chanaccess 的公共接口
//
//   - server.go   - 服务端钩子：过程变量存在性测试与挂接、过程变量本身
//   - dispatch.go - 监听器分发边界（同步直调或队列）
//
// 核心层只依赖这些接口，具体实现分别位于 internal/server 与
// internal/core/dispatch。
package interfaces
