package protocol

import (
	"fmt"

	"github.com/dep2p/go-chanaccess/pkg/types"
)

// ValidateChannelName 校验客户端通道名
//
// 名称非空，且编码后（含 NUL）能放进一个搜索数据报。
func ValidateChannelName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty channel name", StatusEmptyStr)
	}
	limit := MaxChannelNameLength
	if limit > 0xFFFF {
		limit = 0xFFFF
	}
	if len(name) > limit {
		return fmt.Errorf("%w: name too long (%d > %d)", StatusStrTooBig, len(name), limit)
	}
	return nil
}

// ValidatePriority 校验通道优先级
func ValidatePriority(p types.Priority) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", StatusBadPriority, p)
	}
	return nil
}

// ReasonableServerName 服务端对通道名的宽松检查
func ReasonableServerName(name string) bool {
	return name != "" && len(name) <= UnreasonableChannelNameLength
}
