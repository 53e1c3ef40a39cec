package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 支持 JSON 字符串解析的 time.Duration 包装类型
//
// 支持的格式:
//   - 字符串: "30s", "5m", "100ms"，或不带单位的秒数 "30.0"
//   - 数字: 秒数（可为小数），与 EPICS_CA_* 环境变量的约定一致
//
// 示例：
//
//	{"connection_timeout": "30s"} 或 {"connection_timeout": 30}
type Duration time.Duration

// ParseSeconds 解析 Duration 字符串，不带单位时按秒处理
func ParseSeconds(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(d), nil
}

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := ParseSeconds(s)
		if err != nil {
			return err
		}
		*d = v
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*d = Duration(f * float64(time.Second))
		return nil
	}

	return fmt.Errorf("duration must be a string (e.g., \"30s\") or number of seconds")
}

// MarshalJSON 输出为人类可读的字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Duration 返回底层的 time.Duration 值
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String 返回字符串表示
func (d Duration) String() string {
	return time.Duration(d).String()
}
