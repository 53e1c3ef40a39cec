// Package metrics 提供 Prometheus 监控指标
//
// Collector 持有独立的 prometheus.Registry，同一进程内的多个上下文互不干扰。
// 所有记录方法对 nil 接收者安全，指标关闭时组件可以直接传入 nil。
//
//	c := metrics.NewCollector(metrics.DefaultConfig(), instanceID)
//	c.CircuitOpened()
//	c.FrameReceived(protocol.CmdEventAdd, 48)
//	http.Handle("/metrics", c.Handler())
package metrics
