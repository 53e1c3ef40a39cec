// Package wire 实现字节流与数据报上的帧定界
//
// FrameReader 维护一个跨 Read 调用持久化的部分读状态机：
//
//	读取标准头 -> 检查哨兵 -> 按需读取扩展头 -> 扩容负载缓冲区 -> 读取负载 -> 交付 -> 重置
//
// 底层 Read 返回的字节少于所需时，已读取的部分保留在读取器中，
// ReadFrame 返回 ErrShortRead 表示需要再次调用。
//
// ForEach 用于 UDP 数据报，一个数据报中可以打包多个帧。
package wire
