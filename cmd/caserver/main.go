// Package main 提供 caserver 命令行入口：承载内存过程变量
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	chanaccess "github.com/dep2p/go-chanaccess"
	"github.com/dep2p/go-chanaccess/internal/cmdutil"
	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

var logger = log.Logger("cmd/caserver")

var (
	common      = cmdutil.Register(flag.CommandLine)
	iface       = flag.String("interface", "", "监听接口地址（覆盖 EPICS_CAS_INTF_ADDR_LIST）")
	readOnly    = flag.String("ro", "", "只读过程变量名，逗号分隔")
	metricsAddr = flag.String("metrics", "", "Prometheus 指标监听地址，如 :9102")
	ramp        = flag.Duration("ramp", 0, "周期性递增所有数值标量（0 = 关闭）")
	pvDefs      pvList
)

func init() {
	flag.Var(&pvDefs, "pv", "过程变量定义 name=[TYPE:]v1,v2,...（可重复）")
}

// pvList 可重复的 -pv 参数
type pvList []string

func (l *pvList) String() string { return strings.Join(*l, " ") }

func (l *pvList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

// parsePV 解析 name=[TYPE:]v1,v2,...
func parsePV(def string, rights types.AccessRights) (*chanaccess.MemoryProcessVariable, error) {
	name, rest, ok := strings.Cut(def, "=")
	if !ok || name == "" || rest == "" {
		return nil, fmt.Errorf("非法定义 %q，应为 name=[TYPE:]values", def)
	}
	t := dbr.Double
	if typ, vals, ok := strings.Cut(rest, ":"); ok {
		parsed, err := dbr.ParseType(typ)
		if err != nil {
			return nil, err
		}
		t, rest = parsed, vals
	}
	var values []string
	if t == dbr.String {
		values = strings.Split(rest, ",")
	} else {
		values = cmdutil.SplitList(rest)
	}
	v, err := dbr.FromStrings(t, values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return chanaccess.NewMemoryProcessVariable(name, v, rights)
}

func main() {
	if err := run(); err != nil {
		cmdutil.Fatal(err)
	}
}

func run() error {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: caserver [参数] -pv name=[TYPE:]values ...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if common.Version {
		cmdutil.PrintVersion("caserver")
		return nil
	}
	if len(pvDefs) == 0 {
		flag.Usage()
		return errors.New("至少需要一个 -pv")
	}

	closer, err := common.SetupLogging()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	ro := map[string]bool{}
	for _, n := range cmdutil.SplitList(*readOnly) {
		ro[n] = true
	}
	hooks := chanaccess.NewDefaultServer()
	var pvs []*chanaccess.MemoryProcessVariable
	for _, def := range pvDefs {
		rights := types.AccessReadWrite
		if name, _, _ := strings.Cut(def, "="); ro[name] {
			rights = types.AccessRead
		}
		pv, err := parsePV(def, rights)
		if err != nil {
			return err
		}
		hooks.Add(pv)
		pvs = append(pvs, pv)
	}

	opts, err := common.Options()
	if err != nil {
		return err
	}
	if *iface != "" {
		opts = append(opts, chanaccess.WithInterface(*iface))
	}
	if *metricsAddr != "" {
		opts = append(opts, chanaccess.WithMetrics(true))
	}

	ctx, cancel := cmdutil.SignalContext()
	defer cancel()

	s, err := chanaccess.NewServer(ctx, hooks, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	fmt.Printf("📦 %s\n", chanaccess.VersionInfo())
	fmt.Printf("监听 %s，承载 %d 个过程变量：%s\n", s.Addr(), len(pvs), strings.Join(hooks.Names(), " "))

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: metricsMux(s), ReadHeaderTimeout: 5 * time.Second}
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
		logger.Info("指标服务已启动", "addr", *metricsAddr)
	}

	if *ramp > 0 {
		go rampLoop(ctx, *ramp, pvs)
	}

	fmt.Println("服务端已启动，按 Ctrl+C 退出")
	<-ctx.Done()
	fmt.Println("\n正在关闭服务端...")
	return nil
}

func metricsMux(s *chanaccess.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.MetricsHandler())
	mux.HandleFunc("/debug/ca", func(w http.ResponseWriter, _ *http.Request) {
		s.Printf(w)
	})
	return mux
}

// rampLoop 周期性递增数值标量，用于演示订阅
func rampLoop(ctx context.Context, period time.Duration, pvs []*chanaccess.MemoryProcessVariable) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, pv := range pvs {
			if pv.NativeCount() != 1 || dbr.Type(pv.NativeType()) == dbr.String {
				continue
			}
			cur, err := dbr.Floats(pv.Value())
			if err != nil || len(cur) != 1 {
				continue
			}
			next, err := dbr.FromFloats(dbr.Type(pv.NativeType()), []float64{cur[0] + 1})
			if err != nil {
				continue
			}
			if err := pv.Write(next); err != nil {
				logger.Debug("递增失败", "pv", pv.Name(), "error", err)
			}
		}
	}
}
