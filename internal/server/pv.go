package server

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// ============================================================================
//                              内存过程变量
// ============================================================================

// MemoryProcessVariable 值保存在内存中的过程变量
//
// 写入的值转换为本地类型后保存，并以 VALUE|LOG 掩码投递给所有订阅。
type MemoryProcessVariable struct {
	name      string
	fieldType dbr.Type
	count     uint32
	rights    types.AccessRights

	mu    sync.RWMutex
	value types.Value
	sinks map[int]interfaces.EventSink
	next  int
}

var _ interfaces.ProcessVariable = (*MemoryProcessVariable)(nil)

// NewMemoryProcessVariable 以初始值创建过程变量，本地类型与个数取自初始值
func NewMemoryProcessVariable(name string, initial types.Value, rights types.AccessRights) (*MemoryProcessVariable, error) {
	t := dbr.Type(initial.Type)
	if !t.Plain() {
		return nil, fmt.Errorf("%w: %s", ErrNotPlain, t)
	}
	if initial.Count == 0 || len(initial.Data) < int(initial.Count)*t.ElementSize() {
		return nil, fmt.Errorf("server: %w: initial value of %s", protocol.StatusBadCount, name)
	}
	return &MemoryProcessVariable{
		name:      name,
		fieldType: t,
		count:     initial.Count,
		rights:    rights,
		value:     initial.Clone(),
		sinks:     make(map[int]interfaces.EventSink),
	}, nil
}

// Name 实现 interfaces.ProcessVariable
func (pv *MemoryProcessVariable) Name() string { return pv.name }

// NativeType 实现 interfaces.ProcessVariable
func (pv *MemoryProcessVariable) NativeType() uint16 { return uint16(pv.fieldType) }

// NativeCount 实现 interfaces.ProcessVariable
func (pv *MemoryProcessVariable) NativeCount() uint32 { return pv.count }

// AccessRights 实现 interfaces.ProcessVariable
func (pv *MemoryProcessVariable) AccessRights(interfaces.ClientInfo) types.AccessRights {
	return pv.rights
}

// Read 实现 interfaces.ProcessVariable
func (pv *MemoryProcessVariable) Read(dataType uint16, count uint32) (types.Value, error) {
	pv.mu.RLock()
	v := pv.value
	pv.mu.RUnlock()
	return dbr.Convert(v, dbr.Type(dataType), count)
}

// Value 当前值
func (pv *MemoryProcessVariable) Value() types.Value {
	pv.mu.RLock()
	defer pv.mu.RUnlock()
	return pv.value.Clone()
}

// Write 实现 interfaces.ProcessVariable
//
// 元素少于本地个数时只覆盖前面的元素。
func (pv *MemoryProcessVariable) Write(v types.Value) error {
	in, err := dbr.Convert(v, pv.fieldType, 0)
	if err != nil {
		return err
	}
	if in.Count > pv.count {
		return fmt.Errorf("server: %w: %d > %d", protocol.StatusBadCount, in.Count, pv.count)
	}

	pv.mu.Lock()
	next := pv.value.Clone()
	copy(next.Data, in.Data)
	pv.value = next
	sinks := pv.sinkList()
	pv.mu.Unlock()

	for _, s := range sinks {
		s.Post(next, types.MaskValue|types.MaskLog)
	}
	return nil
}

// Register 实现 interfaces.ProcessVariable
func (pv *MemoryProcessVariable) Register(sink interfaces.EventSink) func() {
	pv.mu.Lock()
	id := pv.next
	pv.next++
	pv.sinks[id] = sink
	pv.mu.Unlock()
	return func() {
		pv.mu.Lock()
		delete(pv.sinks, id)
		pv.mu.Unlock()
	}
}

// Subscribers 当前订阅数
func (pv *MemoryProcessVariable) Subscribers() int {
	pv.mu.RLock()
	defer pv.mu.RUnlock()
	return len(pv.sinks)
}

func (pv *MemoryProcessVariable) sinkList() []interfaces.EventSink {
	out := make([]interfaces.EventSink, 0, len(pv.sinks))
	for _, s := range pv.sinks {
		out = append(out, s)
	}
	return out
}

// ============================================================================
//                              默认服务端
// ============================================================================

// DefaultServer 以名称表承载过程变量的服务端钩子
type DefaultServer struct {
	mu  sync.RWMutex
	pvs map[string]interfaces.ProcessVariable
}

var _ interfaces.Server = (*DefaultServer)(nil)

// NewDefaultServer 创建空的名称表
func NewDefaultServer() *DefaultServer {
	return &DefaultServer{pvs: make(map[string]interfaces.ProcessVariable)}
}

// Add 注册过程变量，同名时替换
func (d *DefaultServer) Add(pv interfaces.ProcessVariable) {
	d.mu.Lock()
	d.pvs[pv.Name()] = pv
	d.mu.Unlock()
}

// Remove 移除过程变量
func (d *DefaultServer) Remove(name string) {
	d.mu.Lock()
	delete(d.pvs, name)
	d.mu.Unlock()
}

// Get 查找过程变量
func (d *DefaultServer) Get(name string) (interfaces.ProcessVariable, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pv, ok := d.pvs[name]
	return pv, ok
}

// Names 已注册的名称（排序）
func (d *DefaultServer) Names() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.pvs))
	for n := range d.pvs {
		out = append(out, n)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ProcessVariableExistenceTest 实现 interfaces.Server
func (d *DefaultServer) ProcessVariableExistenceTest(name string, _ interfaces.ClientInfo) interfaces.ExistenceStatus {
	if _, ok := d.Get(name); ok {
		return interfaces.ExistenceExists
	}
	return interfaces.ExistenceDoesNotExist
}

// ProcessVariableAttach 实现 interfaces.Server
func (d *DefaultServer) ProcessVariableAttach(name string, _ interfaces.ClientInfo) (interfaces.ProcessVariable, error) {
	pv, ok := d.Get(name)
	if !ok {
		return nil, fmt.Errorf("server: %s: %w", name, protocol.StatusChidNotFound)
	}
	return pv, nil
}
