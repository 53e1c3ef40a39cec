// Package main 提供 caput 命令行入口：写入一个过程变量
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
	"github.com/dep2p/go-chanaccess/pkg/types"
)

var (
	common = cmdutil.Register(flag.CommandLine)
	array  = flag.Bool("a", false, "把其余参数作为数组写入")
	noWait = flag.Bool("n", false, "不等待写入完成回执")
)

func main() {
	if err := run(); err != nil {
		cmdutil.Fatal(err)
	}
}

func run() error {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: caput [参数] <pv> <值>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if common.Version {
		cmdutil.PrintVersion("caput")
		return nil
	}
	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		return errors.New("缺少过程变量名或值")
	}
	name, values := args[0], args[1:]
	if !*array && len(values) > 1 {
		return errors.New("多个值需使用 -a")
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

	ch, err := c.CreateChannel(name, types.Priority(common.Priority), nil)
	if err != nil {
		return err
	}
	if err := c.PendIO(ctx, common.Timeout); err != nil {
		return fmt.Errorf("%s: 未连接: %w", name, err)
	}

	opCtx, opCancel := context.WithTimeout(ctx, common.Timeout)
	defer opCancel()

	native := dbr.Type(ch.FieldType())
	old, err := ch.Get(opCtx, uint16(native), 0)
	if err != nil {
		return fmt.Errorf("读取旧值失败: %w", err)
	}

	v, err := dbr.FromStrings(native, values)
	if err != nil {
		return err
	}
	if *noWait {
		if err := ch.Put(v); err != nil {
			return err
		}
		c.Flush()
	} else if err := ch.PutWait(opCtx, v); err != nil {
		return fmt.Errorf("写入失败: %w", err)
	}

	cur, err := ch.Get(opCtx, uint16(native), 0)
	if err != nil {
		return fmt.Errorf("读取新值失败: %w", err)
	}
	fmt.Printf("Old : %-30s %s\n", name, dbr.Format(old))
	fmt.Printf("New : %-30s %s\n", name, dbr.Format(cur))
	return nil
}
