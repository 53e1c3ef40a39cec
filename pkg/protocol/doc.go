// Package protocol 定义 Channel Access 线协议
//
// 本包是协议常量、命令码、状态码与消息帧格式的单一真相源。
// 所有核心组件（虚拟电路、搜索调度器、信标监视器、服务端）
// 都通过本包编码与解码消息头，而不是自行拼装字节。
//
// # 消息头
//
// 标准消息头 16 字节（大端序）：
//
//	+---------+-------------+----------+-----------+------------+------------+
//	| cmd u16 | payload u16 | type u16 | count u16 | param1 u32 | param2 u32 |
//	+---------+-------------+----------+-----------+------------+------------+
//
// 当 payload 字段等于 0xFFFF 时为扩展消息头：紧随其后的 8 字节
// 依次为真实的 32 位负载长度与 32 位元素个数，总长 24 字节。
// 负载总是按 8 字节对齐填充。
//
// # 消息构造
//
// messages.go 中的 AppendXxx 函数把完整的帧（消息头 + 对齐负载）
// 追加到调用者提供的切片上，便于直接写入发送缓冲区。
package protocol
