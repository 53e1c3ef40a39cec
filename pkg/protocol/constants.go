package protocol

import "time"

// ============================================================================
//                              协议版本
// ============================================================================

const (
	// MajorRevision 协议主版本
	MajorRevision = 4
	// MinorRevision 本实现支持的协议次版本
	MinorRevision = 13

	// MinorExtendedHeader 支持扩展消息头的最低对端次版本
	MinorExtendedHeader = 9
	// MinorEcho 支持 Echo 命令的最低对端次版本
	MinorEcho = 3
	// MinorCreateChannelFailed 支持 CreateChannelFailed 的最低对端次版本
	MinorCreateChannelFailed = 6
	// MinorCreateChannel 服务端接受创建通道请求的最低次版本
	MinorCreateChannel = 4
	// MinorSearchPort 搜索响应携带端口的最低次版本
	MinorSearchPort = 1
)

// ============================================================================
//                              端口
// ============================================================================

const (
	// PortBase 端口基数
	PortBase = 5056
	// DefaultServerPort 默认服务端端口（TCP 与 UDP 搜索）
	DefaultServerPort = PortBase + MajorRevision*2
	// DefaultRepeaterPort 默认转发器端口
	DefaultRepeaterPort = PortBase + MajorRevision*2 + 1
)

// ============================================================================
//                              尺寸限制
// ============================================================================

const (
	// HeaderSize 标准消息头长度
	HeaderSize = 16
	// ExtendedHeaderSize 扩展消息头长度
	ExtendedHeaderSize = 24
	// ExtendedSentinel 扩展头哨兵值
	ExtendedSentinel = 0xFFFF

	// MaxUDPSend 单个 UDP 发送数据报最大长度
	MaxUDPSend = 1024
	// MaxUDPRecv 单个 UDP 接收数据报最大长度
	MaxUDPRecv = 0xFFFF + 16
	// MaxTCPRecv TCP 接收缓冲区初始长度
	MaxTCPRecv = 1024*16 + ExtendedHeaderSize
	// DefaultMaxArrayBytes 默认最大数组字节数
	DefaultMaxArrayBytes = 1024 * 16

	// UnreasonableChannelNameLength 服务端拒绝的通道名长度
	UnreasonableChannelNameLength = 500
	// MaxChannelNameLength 客户端接受的最大通道名长度
	MaxChannelNameLength = MaxUDPSend - HeaderSize

	// Alignment 负载对齐字节数
	Alignment = 8
	// PageSize 负载缓冲区扩容粒度
	PageSize = 4096
)

// ============================================================================
//                              搜索标志
// ============================================================================

const (
	// SearchDontReply 搜索失败时不回复
	SearchDontReply uint16 = 5
	// SearchDoReply 搜索失败时回复 NotFound
	SearchDoReply uint16 = 10

	// SequenceNumberValid Version 帧 dataType 字段中表示序列号有效的标志
	SequenceNumberValid uint16 = 1

	// UnknownServerAddress 搜索响应中表示“使用数据报源地址”的服务器地址
	UnknownServerAddress uint32 = 0xFFFFFFFF
)

// ============================================================================
//                              时间常量
// ============================================================================

const (
	// EchoTimeout 回显探测超时
	EchoTimeout = 5 * time.Second
	// DefaultConnectionTimeout 默认电路空闲超时
	DefaultConnectionTimeout = 30 * time.Second
	// DefaultBeaconPeriod 默认信标周期
	DefaultBeaconPeriod = 15 * time.Second
)
