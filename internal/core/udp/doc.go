// Package udp 提供搜索、信标与转发器共用的 UDP 广播传输
//
// 职责：
//   - 套接字选项（SO_REUSEADDR、SO_REUSEPORT、SO_BROADCAST）
//   - 地址列表解析与本机广播地址枚举
//   - 数据报接收循环
package udp
