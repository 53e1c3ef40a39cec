// Package reactor 提供协议处理的执行核心
//
// 每条虚拟电路由自己的读协程驱动，帧在该协程上按序分发；
// 可能阻塞在套接字写上的刷新任务交给有界工作池执行，
// 协议协程不会因写阻塞。
//
// 单线程模式下使用 Inline 执行器，任务在调用方协程同步执行。
package reactor
