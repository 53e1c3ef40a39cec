// Package main 提供 carepeater 命令行入口：本机信标转发器
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/dep2p/go-chanaccess/config"
	"github.com/dep2p/go-chanaccess/internal/cmdutil"
	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/internal/core/repeater"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
)

var logger = log.Logger("cmd/carepeater")

var (
	configFile  = flag.String("config", "", "JSON 配置文件路径")
	port        = flag.Int("port", 0, "监听端口（0 = 使用 EPICS_CA_REPEATER_PORT 或默认值）")
	rate        = flag.Float64("rate", repeater.DefaultOptions().FanoutRate, "每秒最多转发的数据报（0 = 不限制）")
	burst       = flag.Int("burst", repeater.DefaultOptions().FanoutBurst, "转发突发量")
	metricsAddr = flag.String("metrics", "", "Prometheus 指标监听地址，如 :9103")
	logLevel    = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		cmdutil.Fatal(err)
	}
}

func run() error {
	flag.Parse()
	if *showVersion {
		cmdutil.PrintVersion("carepeater")
		return nil
	}

	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyOSEnv(); err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	cfg.Log.Apply()

	opts := repeater.DefaultOptions()
	opts.Port = cfg.Client.RepeaterPort
	if *port > 0 {
		opts.Port = *port
	}
	opts.FanoutRate = *rate
	opts.FanoutBurst = *burst

	var collector *metrics.Collector
	if *metricsAddr != "" {
		mcfg := metrics.ConfigFromUnified(cfg)
		mcfg.Enabled = true
		collector = metrics.NewCollector(mcfg, "carepeater")
	}

	ctx, cancel := cmdutil.SignalContext()
	defer cancel()

	r, err := repeater.New(ctx, opts, collector)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	logger.Info("转发器已启动", "addr", r.LocalAddr().String())
	fmt.Printf("转发器监听 %s，按 Ctrl+C 退出\n", r.LocalAddr())

	if collector != nil {
		srv := &http.Server{Addr: *metricsAddr, Handler: collector.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("指标服务失败", "addr", *metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("转发器停止", "clients", len(r.Clients()), "dropped", r.Dropped())
	return nil
}
