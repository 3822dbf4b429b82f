package llm

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/BaSui01/driftguard/types"
)

// Unverified 是从模型回复中解析出的未校验 JSON 对象。
//
// 推理服务可能遗漏或臆造字段，调用方只能通过带校验的访问器读取字段，
// 并自行构造严格的内部类型；Unverified 不应越过调用点向外传播。
type Unverified struct {
	fields map[string]any
}

// ParseUnverified 从自由文本中提取第一个 JSON 对象
func ParseUnverified(text string) (*Unverified, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, types.NewError(types.ErrInferenceParse, "no JSON block in response")
	}
	v, err := decode(raw)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return &Unverified{fields: t}, nil
	case []any:
		// 回复是数组时取第一个对象
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return &Unverified{fields: m}, nil
			}
		}
	}
	return nil, types.NewError(types.ErrInferenceParse, "response JSON is not an object")
}

// ParseUnverifiedList 从自由文本中提取对象数组。
// 顶层为对象时，取其第一个数组字段（如 {"elements": [...]}）。
func ParseUnverifiedList(text string) ([]*Unverified, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, types.NewError(types.ErrInferenceParse, "no JSON block in response")
	}
	v, err := decode(raw)
	if err != nil {
		return nil, err
	}

	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		for _, key := range sortedKeys(t) {
			if arr, ok := t[key].([]any); ok {
				items = arr
				break
			}
		}
		if items == nil {
			return nil, types.NewError(types.ErrInferenceParse, "response JSON has no array")
		}
	}

	out := make([]*Unverified, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, &Unverified{fields: m})
		}
	}
	return out, nil
}

func decode(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, types.NewError(types.ErrInferenceParse, "invalid JSON in response").WithCause(err)
	}
	return v, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has 报告字段是否存在且非 null
func (u *Unverified) Has(key string) bool {
	if u == nil {
		return false
	}
	v, ok := u.fields[key]
	return ok && v != nil
}

// Bool 读取布尔字段，接受 true/false、"true"/"yes"/"no" 与 0/1
func (u *Unverified) Bool(key string) (bool, bool) {
	if u == nil {
		return false, false
	}
	switch v := u.fields[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	case json.Number:
		f, err := v.Float64()
		if err == nil && (f == 0 || f == 1) {
			return f == 1, true
		}
	}
	return false, false
}

// Float 读取有限数值字段，接受数字与数字字符串
func (u *Unverified) Float(key string) (float64, bool) {
	if u == nil {
		return 0, false
	}
	var f float64
	var err error
	switch v := u.fields[key].(type) {
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// String 读取非空字符串字段（去除首尾空白）
func (u *Unverified) String(key string) (string, bool) {
	if u == nil {
		return "", false
	}
	s, ok := u.fields[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Strings 读取字符串数组；非字符串元素被丢弃，单个字符串视为单元素数组
func (u *Unverified) Strings(key string) []string {
	if u == nil {
		return nil
	}
	switch v := u.fields[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// Object 读取嵌套对象
func (u *Unverified) Object(key string) *Unverified {
	if u == nil {
		return nil
	}
	if m, ok := u.fields[key].(map[string]any); ok {
		return &Unverified{fields: m}
	}
	return nil
}

// Confidence 读取 [0,1] 置信度字段。
// 模型偶尔返回百分比（如 92），(1,100] 区间按百分比折算，其余越界值视为无效。
func (u *Unverified) Confidence(key string) (float64, bool) {
	f, ok := u.Float(key)
	if !ok {
		return 0, false
	}
	switch {
	case f >= 0 && f <= 1:
		return f, true
	case f > 1 && f <= 100:
		return f / 100, true
	default:
		return 0, false
	}
}
