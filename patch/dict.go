package patch

import (
	"encoding/json"
	"fmt"

	"github.com/iancoleman/orderedmap"
)

// DictDataType 是有序字典在 JSON 中的类型标记
const DictDataType = "Map"

// Dict 有序字典：按插入顺序保存键值对，序列化为
// {"dataType":"Map","value":[[k,v],...]}，与普通对象区分开
type Dict struct {
	m *orderedmap.OrderedMap
}

// NewDict 创建空字典
func NewDict() *Dict {
	return &Dict{m: orderedmap.New()}
}

func (d *Dict) Get(key string) (any, bool) {
	if d == nil || d.m == nil {
		return nil, false
	}
	return d.m.Get(key)
}

// Set 写入键值；已存在的键保持原位置
func (d *Dict) Set(key string, value any) {
	if d.m == nil {
		d.m = orderedmap.New()
	}
	d.m.Set(key, value)
}

func (d *Dict) Delete(key string) {
	if d == nil || d.m == nil {
		return
	}
	d.m.Delete(key)
}

func (d *Dict) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Keys 返回键的副本（插入顺序）
func (d *Dict) Keys() []string {
	if d == nil || d.m == nil {
		return nil
	}
	keys := d.m.Keys()
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

func (d *Dict) Len() int {
	if d == nil || d.m == nil {
		return 0
	}
	return len(d.m.Keys())
}

// Range 按顺序遍历，fn 返回 false 时停止
func (d *Dict) Range(fn func(key string, value any) bool) {
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		if !fn(k, v) {
			return
		}
	}
}

type dictWire struct {
	DataType string            `json:"dataType"`
	Value    []json.RawMessage `json:"value"`
}

func (d *Dict) MarshalJSON() ([]byte, error) {
	pairs := make([][2]any, 0, d.Len())
	d.Range(func(k string, v any) bool {
		pairs = append(pairs, [2]any{k, v})
		return true
	})
	return json.Marshal(struct {
		DataType string   `json:"dataType"`
		Value    [][2]any `json:"value"`
	}{DataType: DictDataType, Value: pairs})
}

func (d *Dict) UnmarshalJSON(data []byte) error {
	var w dictWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.DataType != DictDataType {
		return fmt.Errorf("patch: unexpected dataType %q", w.DataType)
	}
	d.m = orderedmap.New()
	for _, raw := range w.Value {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("patch: map entry must be a [key, value] pair")
		}
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return fmt.Errorf("patch: map key: %w", err)
		}
		value, err := Decode(pair[1])
		if err != nil {
			return err
		}
		d.m.Set(key, value)
	}
	return nil
}
