// Package types 定义 go-chanaccess 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在客户端、服务端与各核心组件之间传递数据。
//
// # 文件组织
//
//   - enums.go  - ConnectionState, AccessRights, Priority
//   - value.go  - Value（类型码、元素个数、原始字节三元组）
//   - events.go - 连接、访问权限、监视器事件
//
// Value 的 Data 字段对核心层是不透明的：解释与转换由值编解码器负责。
package types
