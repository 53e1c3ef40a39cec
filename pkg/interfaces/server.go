package interfaces

import (
	"net"

	"github.com/dep2p/go-chanaccess/pkg/types"
)

// ExistenceStatus 过程变量存在性测试结果
type ExistenceStatus int

const (
	// ExistenceDoesNotExist 不存在（不响应搜索）
	ExistenceDoesNotExist ExistenceStatus = iota
	// ExistenceExists 存在
	ExistenceExists
)

// ClientInfo 发起请求的客户端信息
type ClientInfo struct {
	// Addr 客户端地址（搜索时为 UDP 源地址，电路上为 TCP 对端地址）
	Addr net.Addr
	// User 客户端声明的用户名
	User string
	// Host 客户端声明的主机名
	Host string
	// Priority 电路优先级
	Priority types.Priority
	// Minor 客户端协议次版本
	Minor uint16
}

// Server 服务端钩子
//
// 名称服务委托与访问控制策略由实现者决定，核心层只调用这两个钩子。
type Server interface {
	// ProcessVariableExistenceTest 判断是否承载指定名称
	ProcessVariableExistenceTest(name string, client ClientInfo) ExistenceStatus

	// ProcessVariableAttach 挂接过程变量；返回的错误若为 *protocol.Status 会原样回传
	ProcessVariableAttach(name string, client ClientInfo) (ProcessVariable, error)
}

// ProcessVariable 服务端承载的数据点
type ProcessVariable interface {
	// Name 名称
	Name() string

	// NativeType 本地类型码
	NativeType() uint16

	// NativeCount 本地元素个数
	NativeCount() uint32

	// AccessRights 指定客户端的访问权限
	AccessRights(client ClientInfo) types.AccessRights

	// Read 以请求的类型与个数读取；count 为 0 表示本地个数
	Read(dataType uint16, count uint32) (types.Value, error)

	// Write 写入；值的类型可能与本地类型不同
	Write(v types.Value) error

	// Register 注册值变化接收者，返回注销函数
	Register(sink EventSink) (unregister func())
}

// EventSink 过程变量值变化接收者
type EventSink interface {
	// Post 投递一次值变化；实现必须非阻塞
	Post(v types.Value, mask types.MonitorMask)
}
