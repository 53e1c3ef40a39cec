// Package lib 包含基础设施工具库
//
// 本目录包含与协议组件无关的通用工具库：
//
//   - log: 日志封装
//
// # 与 pkg/ 其他目录的关系
//
// pkg/ 目录包含四类内容：
//
//   - interfaces/: 服务端钩子与分发器接口
//   - types/: 公共类型定义
//   - protocol/ 与 dbr/: 报文与值编解码
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import "github.com/dep2p/go-chanaccess/pkg/lib/log"
//
//	var logger = log.Logger("core/search")
package lib
