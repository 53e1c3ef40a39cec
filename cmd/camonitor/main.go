// Package main 提供 camonitor 命令行入口：订阅过程变量的值变化
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	chanaccess "github.com/dep2p/go-chanaccess"
	"github.com/dep2p/go-chanaccess/internal/cmdutil"
	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

var logger = log.Logger("cmd/camonitor")

var (
	common   = cmdutil.Register(flag.CommandLine)
	maskSpec = flag.String("m", "va", "事件掩码：v=值 l=归档 a=报警 p=属性")
	count    = flag.Uint("c", 0, "元素个数（0 = 本地个数）")
)

// parseMask 解析事件掩码字母
func parseMask(s string) (types.MonitorMask, error) {
	var m types.MonitorMask
	for _, r := range strings.ToLower(s) {
		switch r {
		case 'v':
			m |= types.MaskValue
		case 'l':
			m |= types.MaskLog
		case 'a':
			m |= types.MaskAlarm
		case 'p':
			m |= types.MaskProperty
		default:
			return 0, fmt.Errorf("未知掩码字母: %q", r)
		}
	}
	if m == 0 {
		return 0, errors.New("掩码为空")
	}
	return m, nil
}

// printer 串行化输出
type printer struct {
	mu sync.Mutex
}

func (p *printer) line(name, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf("%-30s %s %s\n", name, time.Now().Format("2006-01-02 15:04:05.000"), text)
}

func main() {
	if err := run(); err != nil {
		cmdutil.Fatal(err)
	}
}

func run() error {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: camonitor [参数] <pv>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if common.Version {
		cmdutil.PrintVersion("camonitor")
		return nil
	}
	names := flag.Args()
	if len(names) == 0 {
		flag.Usage()
		return errors.New("缺少过程变量名")
	}
	mask, err := parseMask(*maskSpec)
	if err != nil {
		return err
	}

	closer, err := common.SetupLogging()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	opts, err := common.Options()
	if err != nil {
		return err
	}

	ctx, cancel := cmdutil.SignalContext()
	defer cancel()

	c, err := chanaccess.NewClient(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	out := &printer{}
	for _, name := range names {
		var (
			once sync.Once
			ch   *chanaccess.Channel
		)
		ready := make(chan struct{})
		listener := func(ev types.ConnectionEvent) {
			<-ready
			if !ev.Connected {
				out.line(ev.Channel, "*** disconnected")
				return
			}
			// 首次连接后按本地类型订阅，之后的重连由客户端自动恢复订阅
			once.Do(func() {
				_, err := ch.Subscribe(ch.FieldType(), uint32(*count), mask, func(ev types.MonitorEvent) {
					if ev.Status != nil {
						out.line(ev.Channel, "*** "+ev.Status.Error())
						return
					}
					out.line(ev.Channel, dbr.Format(ev.Value))
				})
				if err != nil {
					out.line(ev.Channel, "*** subscribe: "+err.Error())
					return
				}
				c.Flush()
			})
		}
		ch, err = c.CreateChannel(name, types.Priority(common.Priority), listener)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		close(ready)
	}
	if err := c.PendIO(ctx, common.Timeout); err != nil {
		for _, ch := range c.Channels() {
			if !ch.Connected() {
				out.line(ch.Name(), "*** not connected")
			}
		}
	}

	<-ctx.Done()
	logger.Debug("收到退出信号")
	return nil
}
