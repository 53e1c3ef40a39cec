package search

import "errors"

var (
	// ErrClosed 调度器已关闭
	ErrClosed = errors.New("search: scheduler closed")
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("search: invalid config")
	// ErrNameTooLong 名称无法放入单个数据报
	ErrNameTooLong = errors.New("search: name does not fit in a datagram")
)
