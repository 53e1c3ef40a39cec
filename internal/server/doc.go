// Package server 实现 Channel Access 服务端上下文
//
// 服务端上下文在同一端口上运行 UDP 搜索应答与 TCP 接入：
//   - 搜索应答：对存在的过程变量回复搜索响应，回显请求序列号
//   - 会话：每个 TCP 连接一个虚拟电路与会话，处理通道创建、读写与订阅
//   - 信标：按 1ms 起步、倍增到信标周期的间隔向信标地址与本机转发器广播
//
// 过程变量由 interfaces.Server 钩子提供；MemoryProcessVariable 与
// DefaultServer 是内存实现，供命令行工具与测试使用。
package server
