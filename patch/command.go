package patch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op 路径命令类型
type Op string

const (
	OpAdd     Op = "add"
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
	OpPush    Op = "push"
)

var (
	// ErrPathNotFound 路径中某段不存在
	ErrPathNotFound = errors.New("patch: path not found")
	// ErrBadPath 路径无法作为命令目标（如对根执行 remove）
	ErrBadPath = errors.New("patch: bad path")
	// ErrNotContainer 终点的父节点不是容器
	ErrNotContainer = errors.New("patch: parent is not a container")
	// ErrUnknownOp 未知命令类型
	ErrUnknownOp = errors.New("patch: unknown op")
)

func notFound(path string) error     { return fmt.Errorf("%w: %s", ErrPathNotFound, path) }
func badPath(path string) error      { return fmt.Errorf("%w: %q", ErrBadPath, path) }
func notContainer(path string) error { return fmt.Errorf("%w: %s", ErrNotContainer, path) }

// Command 是唯一的差量单元：每次变更最终都序列化为零或多条 Command
type Command struct {
	Op    Op
	Path  string
	Value any
}

func Add(path string, value any) Command     { return Command{Op: OpAdd, Path: path, Value: value} }
func Replace(path string, value any) Command { return Command{Op: OpReplace, Path: path, Value: value} }
func Remove(path string) Command             { return Command{Op: OpRemove, Path: path} }
func Push(path string, value any) Command    { return Command{Op: OpPush, Path: path, Value: value} }

func (c Command) String() string {
	return fmt.Sprintf("%s %s", c.Op, c.Path)
}

// MarshalJSON 除 remove 外总是输出 value，保证 false/0 不被省略
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Op == OpRemove {
		return json.Marshal(struct {
			Op   Op     `json:"op"`
			Path string `json:"path"`
		}{c.Op, c.Path})
	}
	return json.Marshal(struct {
		Op    Op     `json:"op"`
		Path  string `json:"path"`
		Value any    `json:"value"`
	}{c.Op, c.Path, c.Value})
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var w struct {
		Op    Op              `json:"op"`
		Path  string          `json:"path"`
		Value json.RawMessage `json:"value,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Op {
	case OpAdd, OpReplace, OpRemove, OpPush:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, w.Op)
	}
	c.Op, c.Path, c.Value = w.Op, w.Path, nil
	if len(w.Value) > 0 {
		v, err := Decode(w.Value)
		if err != nil {
			return fmt.Errorf("patch: decode value of %s: %w", w.Path, err)
		}
		c.Value = v
	}
	return nil
}

// CloneCommands 深拷贝一组命令（值也被复制）
func CloneCommands(cmds []Command) []Command {
	if cmds == nil {
		return nil
	}
	out := make([]Command, len(cmds))
	for i, c := range cmds {
		out[i] = Command{Op: c.Op, Path: c.Path, Value: Clone(c.Value)}
	}
	return out
}
