// Package dispatch 实现监听器回调分发
//
// 两种实现：
//   - Direct 在调用方协程直接执行回调
//   - Queued 在单个分发协程上按提交顺序执行回调，提交方不会被慢监听器阻塞
//
// 两者都会恢复回调中的 panic，单个出错的监听器不会影响协议协程。
package dispatch
