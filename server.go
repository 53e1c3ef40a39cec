package chanaccess

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/internal/server"
)

// Server Channel Access 服务端
type Server struct {
	instance

	ctx       *server.Context
	cfg       *config.Config
	collector *metrics.Collector
}

// NewServer 创建并启动服务端
//
// hooks 负责名称存在性判断与过程变量挂接，可使用 NewDefaultServer。
//
// 示例：
//
//	hooks := chanaccess.NewDefaultServer()
//	hooks.Add(pv)
//	s, err := chanaccess.NewServer(ctx, hooks, chanaccess.WithMetrics(true))
func NewServer(ctx context.Context, hooks Hooks, opts ...Option) (*Server, error) {
	if hooks == nil {
		return nil, ErrNoHooks
	}
	o := newOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	cfg, err := o.toInternalConfig()
	if err != nil {
		return nil, err
	}
	asm, err := buildFxApp(cfg, o, roleServer, hooks)
	if err != nil {
		return nil, err
	}
	s := &Server{ctx: asm.server, cfg: cfg, collector: asm.collector}
	s.init(asm)
	if err := s.start(ctx, o.startTimeout); err != nil {
		return nil, err
	}
	logger.Info("服务端已启动", "instance", s.id, "addr", s.ctx.Addr().String(), "port", s.ctx.Port())
	return s, nil
}

// Context 底层服务端上下文
func (s *Server) Context() *server.Context { return s.ctx }

// Config 生效配置的副本
func (s *Server) Config() *config.Config { return s.cfg.Clone() }

// Port 搜索应答中通告的 TCP 端口
func (s *Server) Port() int { return s.ctx.Port() }

// Addr TCP 监听地址
func (s *Server) Addr() net.Addr { return s.ctx.Addr() }

// Sessions 当前会话数
func (s *Server) Sessions() int { return s.ctx.Sessions() }

// Printf 输出诊断信息
func (s *Server) Printf(w io.Writer) { s.ctx.Printf(w) }

// MetricsHandler Prometheus 指标处理器；指标关闭时返回 404 处理器
func (s *Server) MetricsHandler() http.Handler { return s.collector.Handler() }
