// Package main 提供 caget 命令行入口：读取一个或多个过程变量
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	chanaccess "github.com/dep2p/go-chanaccess"
	"github.com/dep2p/go-chanaccess/internal/cmdutil"
	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

var logger = log.Logger("cmd/caget")

var (
	common   = cmdutil.Register(flag.CommandLine)
	typeName = flag.String("d", "", "请求类型，如 DBR_DOUBLE（默认本地类型）")
	count    = flag.Uint("c", 0, "元素个数（0 = 本地个数）")
	terse    = flag.Bool("t", false, "只输出值")
)

func main() {
	if err := run(); err != nil {
		cmdutil.Fatal(err)
	}
}

func run() error {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: caget [参数] <pv>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if common.Version {
		cmdutil.PrintVersion("caget")
		return nil
	}
	names := flag.Args()
	if len(names) == 0 {
		flag.Usage()
		return errors.New("缺少过程变量名")
	}

	var reqType *dbr.Type
	if *typeName != "" {
		t, err := dbr.ParseType(*typeName)
		if err != nil {
			return err
		}
		reqType = &t
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

	chans := make([]*chanaccess.Channel, 0, len(names))
	for _, name := range names {
		ch, err := c.CreateChannel(name, types.Priority(common.Priority), nil)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		chans = append(chans, ch)
	}
	if err := c.PendIO(ctx, common.Timeout); err != nil {
		logger.Debug("部分通道未连接", "error", err)
	}

	failed := 0
	for _, ch := range chans {
		if !ch.Connected() {
			fmt.Printf("%-30s *** not connected\n", ch.Name())
			failed++
			continue
		}
		dt := ch.FieldType()
		if reqType != nil {
			dt = uint16(*reqType)
		}
		getCtx, getCancel := context.WithTimeout(ctx, common.Timeout)
		v, err := ch.Get(getCtx, dt, uint32(*count))
		getCancel()
		if err != nil {
			fmt.Printf("%-30s *** %v\n", ch.Name(), err)
			failed++
			continue
		}
		if *terse {
			fmt.Println(dbr.Format(v))
		} else {
			fmt.Printf("%-30s %s\n", ch.Name(), dbr.Format(v))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d 个通道读取失败", failed)
	}
	return nil
}
