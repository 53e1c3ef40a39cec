package server

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("server: invalid config")
	// ErrNoHooks 缺少服务端钩子
	ErrNoHooks = errors.New("server: nil server hooks")
	// ErrDestroyed 服务端已销毁
	ErrDestroyed = errors.New("server: context destroyed")
	// ErrUnexpectedCommand 电路上出现服务端不处理的命令
	ErrUnexpectedCommand = errors.New("server: unexpected command")
	// ErrNotPlain 过程变量的本地类型不是普通类型
	ErrNotPlain = errors.New("server: process variable type is not plain")
)
