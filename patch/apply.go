package patch

import (
	"fmt"
	"strconv"
)

// Apply 将命令作用于文档树并返回（可能被替换的）根节点。
// 任一中间路径段缺失时返回 ErrPathNotFound，树保持不变。
// 写入的值会被深拷贝，历史中的命令不会与树共享引用。
func Apply(root any, cmd Command) (any, error) {
	segs := Split(cmd.Path)
	if len(segs) == 0 {
		switch cmd.Op {
		case OpAdd, OpReplace:
			return Clone(cmd.Value), nil
		default:
			return root, badPath(cmd.Path)
		}
	}
	return apply(root, segs, cmd)
}

// ApplyAll 依次应用多条命令；失败的命令被跳过，错误通过 onErr 回调报告
func ApplyAll(root any, cmds []Command, onErr func(Command, error)) any {
	for _, c := range cmds {
		next, err := Apply(root, c)
		if err != nil {
			if onErr != nil {
				onErr(c, err)
			}
			continue
		}
		root = next
	}
	return root
}

func apply(node any, segs []string, cmd Command) (any, error) {
	key := segs[0]
	if len(segs) == 1 {
		return applyTerminal(node, key, cmd)
	}
	child, ok := lookup(node, key)
	if !ok {
		return node, notFound(cmd.Path)
	}
	updated, err := apply(child, segs[1:], cmd)
	if err != nil {
		return node, err
	}
	return store(node, key, updated, cmd.Path)
}

// store 把子节点写回父容器（切片可能在下层被重新分配）
func store(node any, key string, value any, path string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		n[key] = value
		return n, nil
	case *Dict:
		n.Set(key, value)
		return n, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(n) {
			return node, notFound(path)
		}
		n[i] = value
		return n, nil
	default:
		return node, notContainer(path)
	}
}

func applyTerminal(node any, key string, cmd Command) (any, error) {
	switch cmd.Op {
	case OpPush:
		child, ok := lookup(node, key)
		if !ok {
			return node, notFound(cmd.Path)
		}
		arr, ok := child.([]any)
		if !ok {
			return node, notContainer(cmd.Path)
		}
		return store(node, key, append(arr, Clone(cmd.Value)), cmd.Path)
	case OpAdd, OpReplace:
		return set(node, key, cmd)
	case OpRemove:
		return remove(node, key, cmd.Path)
	default:
		return node, fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
}

func set(node any, key string, cmd Command) (any, error) {
	value := Clone(cmd.Value)
	switch n := node.(type) {
	case map[string]any:
		n[key] = value
		return n, nil
	case *Dict:
		n.Set(key, value)
		return n, nil
	case []any:
		// replace 只能覆盖已有元素，追加仅限 add
		if cmd.Op == OpReplace {
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(n) {
				return node, notFound(cmd.Path)
			}
			n[i] = value
			return n, nil
		}
		if key == "-" {
			return append(n, value), nil
		}
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i > len(n) {
			return node, notFound(cmd.Path)
		}
		if i == len(n) {
			return append(n, value), nil
		}
		out := make([]any, 0, len(n)+1)
		out = append(out, n[:i]...)
		out = append(out, value)
		return append(out, n[i:]...), nil
	default:
		return node, notContainer(cmd.Path)
	}
}

func remove(node any, key, path string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if _, ok := n[key]; !ok {
			return node, notFound(path)
		}
		delete(n, key)
		return n, nil
	case *Dict:
		if !n.Has(key) {
			return node, notFound(path)
		}
		n.Delete(key)
		return n, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(n) {
			return node, notFound(path)
		}
		out := make([]any, 0, len(n)-1)
		out = append(out, n[:i]...)
		return append(out, n[i+1:]...), nil
	default:
		return node, notContainer(path)
	}
}
