// Package chanaccess 是 EPICS Channel Access 协议的 Go 实现
//
// 包含两个入口：
//   - Client：搜索过程变量、建立虚拟电路，执行读、写与订阅
//   - Server：应答名称搜索、承载过程变量、周期性广播信标
//
// 两者都由 fx 组装内部模块（指标、客户端或服务端上下文、生命周期协调器），
// 配置来源依次为：默认值 → 预设 → JSON 文件 → EPICS_CA_* 环境变量 → 选项。
//
// 客户端示例：
//
//	c, err := chanaccess.NewClient(ctx, chanaccess.WithAddrList("10.0.0.255"))
//	if err != nil { ... }
//	defer c.Close()
//
//	ch, _ := c.CreateChannel("demo:ai", 0, nil)
//	if err := c.PendIO(ctx, 5*time.Second); err != nil { ... }
//	v, err := ch.Get(ctx, uint16(dbr.Double), 0)
//
// 服务端示例：
//
//	hooks := chanaccess.NewDefaultServer()
//	hooks.Add(pv)
//	s, err := chanaccess.NewServer(ctx, hooks, chanaccess.WithServerPort(5064))
//	defer s.Close()
package chanaccess
