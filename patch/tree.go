// Package patch 实现基于斜杠路径的文档树读写，是所有世界变更的底层载体。
//
// 文档树由 map[string]any、[]any、*Dict 以及 JSON 标量
// （float64、string、bool、nil）组成。
package patch

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Decode 解析 JSON 为文档树，并还原 {"dataType":"Map"} 形式的有序字典
func Decode(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Revive(v), nil
}

// Revive 将 encoding/json 解出的通用值转换为文档树
func Revive(v any) any {
	switch n := v.(type) {
	case map[string]any:
		if dt, ok := n["dataType"].(string); ok && dt == DictDataType {
			if pairs, ok := n["value"].([]any); ok {
				d := NewDict()
				for _, p := range pairs {
					kv, ok := p.([]any)
					if !ok || len(kv) != 2 {
						continue
					}
					key, ok := kv[0].(string)
					if !ok {
						continue
					}
					d.Set(key, Revive(kv[1]))
				}
				return d
			}
		}
		for k, child := range n {
			n[k] = Revive(child)
		}
		return n
	case []any:
		for i, child := range n {
			n[i] = Revive(child)
		}
		return n
	case *Dict:
		n.Range(func(k string, child any) bool {
			n.Set(k, Revive(child))
			return true
		})
		return n
	default:
		return Scalar(v)
	}
}

// Scalar 统一数字类型为 float64，其它值原样返回
func Scalar(v any) any {
	if f, ok := Number(v); ok {
		return f
	}
	return v
}

// Clone 深拷贝文档树
func Clone(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, child := range n {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, child := range n {
			out[i] = Clone(child)
		}
		return out
	case *Dict:
		if n == nil {
			return n
		}
		out := NewDict()
		n.Range(func(k string, child any) bool {
			out.Set(k, Clone(child))
			return true
		})
		return out
	default:
		return Scalar(v)
	}
}

// Number 读取数字值
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Split 拆分路径，忽略首个空段；"/" 与 "" 得到空切片
func Split(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Join 拼接为以 / 开头的路径
func Join(segs ...string) string {
	return "/" + strings.Join(segs, "/")
}

func lookup(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case *Dict:
		return n.Get(key)
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(n) {
			return nil, false
		}
		return n[i], true
	default:
		return nil, false
	}
}

// Get 按路径读取节点
func Get(root any, path string) (any, bool) {
	node := root
	for _, seg := range Split(path) {
		next, ok := lookup(node, seg)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

// Resolve 返回路径终点的父容器与终点键
func Resolve(root any, path string) (parent any, key string, err error) {
	segs := Split(path)
	if len(segs) == 0 {
		return nil, "", badPath(path)
	}
	parent = root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := lookup(parent, seg)
		if !ok {
			return nil, "", notFound(path)
		}
		parent = next
	}
	switch parent.(type) {
	case map[string]any, *Dict, []any:
		return parent, segs[len(segs)-1], nil
	default:
		return nil, "", notContainer(path)
	}
}
