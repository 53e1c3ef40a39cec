// Package circuit 实现虚拟电路传输
//
// 一条虚拟电路拥有一个 TCP 连接，在客户端与服务端结构对称：
//
//   - 接收：一个读协程驱动 wire.FrameReader，帧在该协程上按序交给 Handler
//   - 发送：帧追加到当前活跃缓冲区，缓冲区写满或显式 Flush 时进入 FIFO 队列；
//     刷新任务交给 reactor.Executor，每条电路同时至多一个刷新任务
//   - 回显看门狗：空闲超时后发送 Echo，回显超时后标记电路无响应
//   - 流控：连续满读达到阈值后发送 EventsOff，读空后发送 EventsOn
//
// 关闭顺序：
//
//	标记关闭 -> 停止看门狗 -> 从注册表移除 -> 通知所有者
//	-> 尽力最终刷新（强制关闭时跳过） -> 归还缓冲区 -> 关闭套接字 -> 等待读协程退出
package circuit
