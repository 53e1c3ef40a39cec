// Package client 实现客户端上下文
//
// Context 持有客户端的全部状态：搜索用 UDP 传输与调度器、信标监视器、
// 转发器注册、电路与通道注册表、请求 ID 表以及 PendIO 计数。
//
// 通道生命周期：
//
//	NEVER_CONNECTED ──搜索应答/创建确认──▶ CONNECTED ⇄ DISCONNECTED ──销毁──▶ CLOSED
//
// 电路失效时通道以 DISCONN 失败未完成请求并重新搜索；订阅在新电路上
// 先于连接通知重放。连接通知按最近一次报告的连接性去重。
//
// 帧在电路读协程上处理，应用回调一律经 Dispatcher 投递。
package client
