// Package repeater 实现信标转发器
//
// Repeater 在转发器端口上接收数据报：本机客户端以 RepeaterRegister（或空数据报）
// 注册并收到 RepeaterConfirm；其余数据报（主要是服务端信标）转发给除来源外的所有
// 已注册客户端。地址字段为 0 的信标由转发器补上来源地址。
//
// Registrar 是客户端一侧：未确认前按短间隔重试注册，确认后按注册周期刷新。
package repeater
