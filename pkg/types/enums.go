package types

// ============================================================================
//                              ConnectionState - 通道连接状态
// ============================================================================

// ConnectionState 通道连接状态
//
// 状态迁移：NeverConnected → Connected ⇄ Disconnected → Closed（终态）。
type ConnectionState int32

const (
	// StateNeverConnected 尚未连接（正在搜索）
	StateNeverConnected ConnectionState = iota
	// StateConnected 已连接
	StateConnected
	// StateDisconnected 已断开（正在重新搜索或电路无响应）
	StateDisconnected
	// StateClosed 已关闭，不可再进入其他状态
	StateClosed
)

// String 返回状态的字符串表示
func (s ConnectionState) String() string {
	switch s {
	case StateNeverConnected:
		return "NEVER_CONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ============================================================================
//                              AccessRights - 访问权限
// ============================================================================

// AccessRights 访问权限位掩码
type AccessRights uint32

const (
	// AccessNone 无权限
	AccessNone AccessRights = 0
	// AccessRead 读权限
	AccessRead AccessRights = 1 << 0
	// AccessWrite 写权限
	AccessWrite AccessRights = 1 << 1
	// AccessReadWrite 读写权限
	AccessReadWrite = AccessRead | AccessWrite
)

// CanRead 是否可读
func (a AccessRights) CanRead() bool { return a&AccessRead != 0 }

// CanWrite 是否可写
func (a AccessRights) CanWrite() bool { return a&AccessWrite != 0 }

// String 返回权限的字符串表示
func (a AccessRights) String() string {
	switch a & AccessReadWrite {
	case AccessReadWrite:
		return "READ_WRITE"
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	default:
		return "NO_ACCESS"
	}
}

// ============================================================================
//                              Priority - 通道优先级
// ============================================================================

// Priority 通道优先级，每个优先级使用独立的虚拟电路
type Priority uint16

const (
	// PriorityMin 最低优先级
	PriorityMin Priority = 0
	// PriorityDefault 默认优先级
	PriorityDefault = PriorityMin
	// PriorityMax 最高优先级
	PriorityMax Priority = 99
	// PriorityLinksDB 数据库链接使用的优先级
	PriorityLinksDB = PriorityMax
)

// Valid 检查优先级是否在有效范围内
func (p Priority) Valid() bool { return p <= PriorityMax }

// ============================================================================
//                              MonitorMask - 订阅事件掩码
// ============================================================================

// MonitorMask 订阅事件掩码
type MonitorMask uint16

const (
	// MaskValue 值变化
	MaskValue MonitorMask = 1 << 0
	// MaskLog 归档
	MaskLog MonitorMask = 1 << 1
	// MaskAlarm 报警状态变化
	MaskAlarm MonitorMask = 1 << 2
	// MaskProperty 属性变化
	MaskProperty MonitorMask = 1 << 3
	// MaskAll 所有事件
	MaskAll = MaskValue | MaskLog | MaskAlarm | MaskProperty
)

// Valid 至少包含一个已知事件位
func (m MonitorMask) Valid() bool { return m&MaskAll != 0 }
