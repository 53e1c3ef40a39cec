// Package registry 实现连接注册表
//
// 包含：
//   - Circuits：(地址, 优先级) -> 虚拟电路，按键加锁创建，保证每个键至多一条电路
//   - Channels：(名称, 优先级) -> 通道，引用计数，不返回已关闭的通道
//   - Table：回绕计数器分配 ID 的表，用于通道 ID 与请求 ID
//   - NamedLocks：按键的互斥锁
//
// 每个映射使用自己的锁，不存在全局锁。
package registry
