package chanaccess

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/internal/client"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// Client Channel Access 客户端
//
// 由 NewClient 创建并启动，Close 后不可再用。
type Client struct {
	instance

	ctx       *client.Context
	cfg       *config.Config
	collector *metrics.Collector
}

// NewClient 创建并启动客户端
//
// 示例：
//
//	c, err := chanaccess.NewClient(ctx,
//	    chanaccess.WithPreset(chanaccess.PresetLocal),
//	    chanaccess.WithLogLevel("debug"),
//	)
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	o := newOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	cfg, err := o.toInternalConfig()
	if err != nil {
		return nil, err
	}
	asm, err := buildFxApp(cfg, o, roleClient, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{ctx: asm.client, cfg: cfg, collector: asm.collector}
	c.init(asm)
	if err := c.start(ctx, o.startTimeout); err != nil {
		return nil, err
	}
	logger.Info("客户端已启动", "instance", c.id, "local", c.ctx.LocalAddr().String())
	return c, nil
}

// Context 底层客户端上下文
func (c *Client) Context() *client.Context { return c.ctx }

// Config 生效配置的副本
func (c *Client) Config() *config.Config { return c.cfg.Clone() }

// CreateChannel 创建或共享通道；listener 可为 nil
func (c *Client) CreateChannel(name string, priority types.Priority, listener ConnectionListener) (*Channel, error) {
	if c.Closed() {
		return nil, ErrClosed
	}
	return c.ctx.CreateChannel(name, priority, listener)
}

// Channel 查找已创建的通道
func (c *Client) Channel(name string, priority types.Priority) (*Channel, bool) {
	return c.ctx.Channel(name, priority)
}

// Channels 所有通道
func (c *Client) Channels() []*Channel { return c.ctx.Channels() }

// PendIO 刷新并等待所有挂起的连接与读取完成；timeout 为 0 表示不限时
func (c *Client) PendIO(ctx context.Context, timeout time.Duration) error {
	return c.ctx.PendIO(ctx, timeout)
}

// TestIO 挂起的连接与读取是否都已完成
func (c *Client) TestIO() bool { return c.ctx.TestIO() }

// Flush 发送所有电路的缓冲请求
func (c *Client) Flush() { c.ctx.Flush() }

// Poll 刷新并返回尚未执行的回调数
func (c *Client) Poll() int { return c.ctx.Poll() }

// AddExceptionListener 添加异常监听器
func (c *Client) AddExceptionListener(l ExceptionListener) { c.ctx.AddExceptionListener(l) }

// Printf 输出诊断信息
func (c *Client) Printf(w io.Writer) { c.ctx.Printf(w) }

// MetricsHandler Prometheus 指标处理器；指标关闭时返回 404 处理器
func (c *Client) MetricsHandler() http.Handler { return c.collector.Handler() }
