// Package dbr 提供最小的普通标量值编解码
//
// 只覆盖 7 种普通类型（STRING/SHORT/FLOAT/ENUM/CHAR/LONG/DOUBLE）
// 及其两两转换，供命令行工具与内存过程变量使用。
// 带状态、时间戳、图形与控制信息的复合记录不在本包范围内，
// 对这些类型码的转换一律返回 NOCONVERT。
package dbr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// Type 值类型码
type Type uint16

// 普通类型
const (
	String Type = 0
	Short  Type = 1
	Float  Type = 2
	Enum   Type = 3
	Char   Type = 4
	Long   Type = 5
	Double Type = 6
)

// StringSize 单个字符串元素的固定长度（含 NUL）
const StringSize = 40

var (
	// ErrNoConvert 无法转换
	ErrNoConvert = fmt.Errorf("dbr: %w", protocol.StatusNoConvert)
	// ErrBadType 无效类型码
	ErrBadType = fmt.Errorf("dbr: %w", protocol.StatusBadType)
)

var typeNames = [...]string{"STRING", "SHORT", "FLOAT", "ENUM", "CHAR", "LONG", "DOUBLE"}

// Plain 是否为普通类型
func (t Type) Plain() bool { return t <= Double }

// String 返回类型名
func (t Type) String() string {
	if t.Plain() {
		return "DBR_" + typeNames[t]
	}
	return fmt.Sprintf("DBR(%d)", uint16(t))
}

// ElementSize 单元素字节数
func (t Type) ElementSize() int {
	switch t {
	case String:
		return StringSize
	case Short, Enum:
		return 2
	case Float, Long:
		return 4
	case Char:
		return 1
	case Double:
		return 8
	}
	return 0
}

// ParseType 解析类型名（大小写不敏感，可带 DBR_ 前缀）
func ParseType(s string) (Type, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "DBR_")
	for i, n := range typeNames {
		if n == s {
			return Type(i), nil
		}
	}
	if s == "INT" {
		return Short, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadType, s)
}

// ============================================================================
//                              编码
// ============================================================================

// FromFloats 以数值数组构造指定类型的值
func FromFloats(t Type, vals []float64) (types.Value, error) {
	if !t.Plain() {
		return types.Value{}, ErrBadType
	}
	size := t.ElementSize()
	data := make([]byte, size*len(vals))
	for i, f := range vals {
		off := i * size
		switch t {
		case String:
			s := strconv.FormatFloat(f, 'g', -1, 64)
			copy(data[off:off+StringSize-1], s)
		case Short:
			binary.BigEndian.PutUint16(data[off:], uint16(int16(f)))
		case Enum:
			binary.BigEndian.PutUint16(data[off:], uint16(f))
		case Float:
			binary.BigEndian.PutUint32(data[off:], math.Float32bits(float32(f)))
		case Long:
			binary.BigEndian.PutUint32(data[off:], uint32(int32(f)))
		case Char:
			data[off] = byte(int8(f))
		case Double:
			binary.BigEndian.PutUint64(data[off:], math.Float64bits(f))
		}
	}
	return types.Value{Type: uint16(t), Count: uint32(len(vals)), Data: data}, nil
}

// FromStrings 以字符串数组构造指定类型的值
func FromStrings(t Type, vals []string) (types.Value, error) {
	if t == String {
		data := make([]byte, StringSize*len(vals))
		for i, s := range vals {
			if len(s) >= StringSize {
				return types.Value{}, fmt.Errorf("dbr: %w", protocol.StatusStrTooBig)
			}
			copy(data[i*StringSize:], s)
		}
		return types.Value{Type: uint16(String), Count: uint32(len(vals)), Data: data}, nil
	}
	floats := make([]float64, len(vals))
	for i, s := range vals {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return types.Value{}, fmt.Errorf("%w: %q", ErrNoConvert, s)
		}
		floats[i] = f
	}
	return FromFloats(t, floats)
}

// ============================================================================
//                              解码
// ============================================================================

func checkLen(v types.Value) (Type, error) {
	t := Type(v.Type)
	if !t.Plain() {
		return t, ErrNoConvert
	}
	if len(v.Data) < int(v.Count)*t.ElementSize() {
		return t, fmt.Errorf("dbr: %w: short payload", protocol.StatusBadCount)
	}
	return t, nil
}

// Floats 将值解码为数值数组
func Floats(v types.Value) ([]float64, error) {
	t, err := checkLen(v)
	if err != nil {
		return nil, err
	}
	size := t.ElementSize()
	out := make([]float64, v.Count)
	for i := range out {
		b := v.Data[i*size:]
		switch t {
		case String:
			s := protocol.ExtractString(b[:StringSize])
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrNoConvert, s)
			}
			out[i] = f
		case Short:
			out[i] = float64(int16(binary.BigEndian.Uint16(b)))
		case Enum:
			out[i] = float64(binary.BigEndian.Uint16(b))
		case Float:
			out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case Long:
			out[i] = float64(int32(binary.BigEndian.Uint32(b)))
		case Char:
			out[i] = float64(int8(b[0]))
		case Double:
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(b))
		}
	}
	return out, nil
}

// Strings 将值解码为字符串数组
func Strings(v types.Value) ([]string, error) {
	t, err := checkLen(v)
	if err != nil {
		return nil, err
	}
	if t == String {
		out := make([]string, v.Count)
		for i := range out {
			out[i] = protocol.ExtractString(v.Data[i*StringSize : (i+1)*StringSize])
		}
		return out, nil
	}
	floats, err := Floats(v)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(floats))
	for i, f := range floats {
		out[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return out, nil
}

// Convert 将值转换为目标类型
//
// count 为 0 表示保持元素个数；大于现有个数时返回 BADCOUNT。
func Convert(v types.Value, to Type, count uint32) (types.Value, error) {
	if !to.Plain() {
		return types.Value{}, ErrNoConvert
	}
	if count == 0 || count > v.Count {
		if count > v.Count {
			return types.Value{}, fmt.Errorf("dbr: %w", protocol.StatusBadCount)
		}
		count = v.Count
	}
	if Type(v.Type) == to {
		out := v.Clone()
		out.Count = count
		out.Data = out.Data[:int(count)*to.ElementSize()]
		return out, nil
	}
	if to == String {
		strs, err := Strings(v)
		if err != nil {
			return types.Value{}, err
		}
		return FromStrings(String, strs[:count])
	}
	floats, err := Floats(v)
	if err != nil {
		return types.Value{}, err
	}
	return FromFloats(to, floats[:count])
}

// Format 返回值的可读表示
func Format(v types.Value) string {
	strs, err := Strings(v)
	if err != nil {
		return fmt.Sprintf("<%s count=%d %d bytes>", Type(v.Type), v.Count, len(v.Data))
	}
	if len(strs) == 1 {
		return strs[0]
	}
	return fmt.Sprintf("%d %s", len(strs), strings.Join(strs, " "))
}
