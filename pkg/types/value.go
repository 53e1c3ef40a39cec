package types

// Value 传输层交付/接受的值三元组
//
// Type 为值类型码，Count 为元素个数，Data 为按协议字节序编码的原始字节。
// 核心层只把 Data 当作声明长度的不透明字节处理。
type Value struct {
	Type  uint16
	Count uint32
	Data  []byte
}

// Clone 返回 Data 独立拷贝的 Value
//
// 接收路径上的负载缓冲区会被复用，交给应用前必须拷贝。
func (v Value) Clone() Value {
	out := Value{Type: v.Type, Count: v.Count}
	if v.Data != nil {
		out.Data = make([]byte, len(v.Data))
		copy(out.Data, v.Data)
	}
	return out
}

// Empty 是否没有任何负载
func (v Value) Empty() bool { return len(v.Data) == 0 }
