// Package beacon 实现服务端信标
//
// Monitor（客户端）按服务端地址维护信标记录，检测信标异常：
//
//   - 首次收到某服务端的信标视为异常
//   - 序列号差为 0 或 2、3 的信标视为重复或乱序，忽略
//   - 周期 >= 1.25 倍平均周期：>= 3.25 倍为网络变化，否则只在平均值仍在收敛时为异常
//   - 周期 <= 0.8 倍平均周期为异常（服务端重启）
//
// 异常时通知 Listener，客户端据此让搜索调度器清扫；每个信标都会重置到该服务端
// 电路的看门狗。
//
// Emitter（服务端）以 1ms 起步、逐次翻倍、封顶为信标周期的间隔发送信标。
package beacon
