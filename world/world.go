// Package world 持有权威实体状态，把变更提案原子地应用到实体上并产出补丁。
package world

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"timewarp/anim"
	"timewarp/patch"
)

const (
	// DefaultStartingAmmo 新玩家弹药
	DefaultStartingAmmo = 10
	// DefaultTranslateDuration translateRight 未指定时长时的动画时长
	DefaultTranslateDuration = 100 * time.Millisecond
)

// World 世界模型：每个节点一个，由 Present 原地修改。
// 历史状态不保存在这里，需要时由时间线重建。
type World struct {
	mu  sync.RWMutex
	log *zap.Logger
	now func() time.Time

	startingAmmo      uint32
	translateDuration time.Duration

	ids      []string
	entities map[string]*Entity
}

type Option func(*World)

func WithLogger(l *zap.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// WithClock 注入时钟（动画插值与命中检测使用）
func WithClock(now func() time.Time) Option {
	return func(w *World) {
		if now != nil {
			w.now = now
		}
	}
}

func WithStartingAmmo(n uint32) Option {
	return func(w *World) { w.startingAmmo = n }
}

func WithTranslateDuration(d time.Duration) Option {
	return func(w *World) {
		if d >= 0 {
			w.translateDuration = d
		}
	}
}

// WithSnapshot 以快照初始化
func WithSnapshot(snapshot any) Option {
	return func(w *World) { w.hydrate(snapshot) }
}

// New 创建世界
func New(opts ...Option) *World {
	w := &World{
		log:               zap.NewNop(),
		now:               time.Now,
		startingAmmo:      DefaultStartingAmmo,
		translateDuration: DefaultTranslateDuration,
		entities:          make(map[string]*Entity),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EmptySnapshot 空世界快照
func EmptySnapshot() any {
	return map[string]any{"entities": patch.NewDict()}
}

// Now 世界时钟
func (w *World) Now() time.Time { return w.now() }

// Present 依次应用提案中的每个变更并返回产生的补丁。
// 整个提案在锁内完成，外部观察者看不到中间状态。
func (w *World) Present(p Proposal) []patch.Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]patch.Command, 0, len(p.Mutations))
	for _, m := range p.Mutations {
		switch m := m.(type) {
		case IncBy:
			out = w.increment(out, m.Path, m.Amount)
		case DecBy:
			out = w.increment(out, m.Path, -m.Amount)
		case ApplyCommand:
			if cmd, ok := w.applyStored(m.Command); ok {
				out = append(out, cmd)
			}
		case HitScan:
			out = w.hitScan(out, m)
		case StopAnimation:
			out = w.stopAnimation(out, m)
		default:
			w.log.Error("unsupported mutation", zap.Any("mutation", m))
		}
	}
	return out
}

// Snapshot 当前世界的文档树（深拷贝）
func (w *World) Snapshot() any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot()
}

// Entity 返回实体副本
func (w *World) Entity(id string) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	cp := *e
	cp.Position.Animation = make(map[Axis]anim.Animation, len(e.Position.Animation))
	for axis, a := range e.Position.Animation {
		cp.Position.Animation[axis] = a
	}
	return cp, true
}

// Len 实体数量
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.ids)
}

// AnimationPaths 实体上所有进行中的动画路径
func (w *World) AnimationPaths(id string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	if !ok {
		return nil
	}
	var paths []string
	for _, axis := range e.axes() {
		paths = append(paths, AnimationPath(id, axis))
	}
	return paths
}

// Animations 所有进行中的动画，按路径索引
func (w *World) Animations() map[string]anim.Animation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]anim.Animation)
	for _, id := range w.ids {
		e := w.entities[id]
		for axis, a := range e.Position.Animation {
			out[AnimationPath(id, axis)] = a
		}
	}
	return out
}

func (w *World) snapshot() any {
	entities := patch.NewDict()
	for _, id := range w.ids {
		entities.Set(id, w.entities[id].node())
	}
	return map[string]any{"entities": entities}
}

// hydrate 与新快照对账：删除缺失实体，已有实体原地更新以保留身份，新实体构造插入
func (w *World) hydrate(snapshot any) {
	root, _ := snapshot.(map[string]any)
	next := make([]string, 0)
	nodes := make(map[string]any)
	switch entities := root["entities"].(type) {
	case *patch.Dict:
		entities.Range(func(id string, node any) bool {
			next = append(next, id)
			nodes[id] = node
			return true
		})
	case map[string]any:
		for id, node := range entities {
			next = append(next, id)
			nodes[id] = node
		}
		sort.Strings(next)
	case nil:
	default:
		w.log.Warn("hydrate: unexpected entities container", zap.Any("entities", entities))
	}

	for _, id := range w.ids {
		if _, ok := nodes[id]; !ok {
			delete(w.entities, id)
		}
	}
	for _, id := range next {
		if e, ok := w.entities[id]; ok {
			e.load(id, nodes[id])
			continue
		}
		w.entities[id] = newEntity(id, nodes[id])
	}
	w.ids = next
}

// get 按路径读取值
func (w *World) get(path string) (any, bool) {
	segs := patch.Split(path)
	if len(segs) >= 2 && segs[0] == "entities" {
		e, ok := w.entities[segs[1]]
		if !ok {
			return nil, false
		}
		if len(segs) == 2 {
			return e.node(), true
		}
		return patch.Get(e.node(), patch.Join(segs[2:]...))
	}
	return patch.Get(w.snapshot(), path)
}

// apply 应用单条路径命令。路径缺失时记录日志并跳过，返回 false：
// 对账重放时命令可能落在尚未存在的实体上。
func (w *World) apply(cmd patch.Command) bool {
	segs := patch.Split(cmd.Path)
	switch {
	case len(segs) == 0:
		if cmd.Op != patch.OpReplace && cmd.Op != patch.OpAdd {
			w.miss(cmd, patch.ErrBadPath)
			return false
		}
		w.hydrate(cmd.Value)
		return true
	case segs[0] == "entities" && len(segs) == 2:
		return w.applyEntity(segs[1], cmd)
	case segs[0] == "entities" && len(segs) > 2:
		e, ok := w.entities[segs[1]]
		if !ok {
			w.miss(cmd, patch.ErrPathNotFound)
			return false
		}
		sub := patch.Command{Op: cmd.Op, Path: patch.Join(segs[2:]...), Value: cmd.Value}
		node, err := patch.Apply(e.node(), sub)
		if err != nil {
			w.miss(cmd, err)
			return false
		}
		e.load(segs[1], node)
		return true
	default:
		root, err := patch.Apply(w.snapshot(), cmd)
		if err != nil {
			w.miss(cmd, err)
			return false
		}
		w.hydrate(root)
		return true
	}
}

// applyStored 应用命令并按模型实际存下的值改写它。
// 实体只保留已知字段并规范化取值（弹药不小于 0），被丢弃的写入不产出命令。
func (w *World) applyStored(cmd patch.Command) (patch.Command, bool) {
	if len(patch.Split(cmd.Path)) == 0 {
		if !w.apply(cmd) {
			return patch.Command{}, false
		}
		cmd.Value = w.snapshot()
		return cmd, true
	}
	_, existed := w.get(cmd.Path)
	if !w.apply(cmd) {
		return patch.Command{}, false
	}
	stored, ok := w.get(cmd.Path)
	switch {
	case !ok && !existed:
		w.log.Debug("path command dropped by entity schema",
			zap.String("op", string(cmd.Op)),
			zap.String("path", cmd.Path))
		return patch.Command{}, false
	case !ok:
		return patch.Remove(cmd.Path), true
	}
	// 实体字段被删除后以零值补回
	if cmd.Op == patch.OpRemove || cmd.Op == patch.OpPush {
		cmd.Op = patch.OpReplace
	}
	cmd.Value = stored
	return cmd, true
}

func (w *World) applyEntity(id string, cmd patch.Command) bool {
	switch cmd.Op {
	case patch.OpAdd, patch.OpReplace:
		if e, ok := w.entities[id]; ok {
			e.load(id, patch.Clone(cmd.Value))
			return true
		}
		w.entities[id] = newEntity(id, patch.Clone(cmd.Value))
		w.ids = append(w.ids, id)
		return true
	case patch.OpRemove:
		if _, ok := w.entities[id]; !ok {
			w.miss(cmd, patch.ErrPathNotFound)
			return false
		}
		delete(w.entities, id)
		for i, v := range w.ids {
			if v == id {
				w.ids = append(w.ids[:i:i], w.ids[i+1:]...)
				break
			}
		}
		return true
	default:
		w.miss(cmd, patch.ErrNotContainer)
		return false
	}
}

func (w *World) miss(cmd patch.Command, err error) {
	w.log.Debug("path command skipped",
		zap.String("op", string(cmd.Op)),
		zap.String("path", cmd.Path),
		zap.Error(err))
}

func (w *World) increment(out []patch.Command, path string, amount float64) []patch.Command {
	cur, ok := w.get(path)
	if !ok {
		w.log.Debug("increment skipped: path not found", zap.String("path", path))
		return out
	}
	n, ok := patch.Number(cur)
	if !ok {
		w.log.Debug("increment skipped: not a number", zap.String("path", path))
		return out
	}
	w.apply(patch.Replace(path, n+amount))
	// 回读实体规范化后的值（如弹药不小于 0），保证补丁与模型一致
	stored, ok := w.get(path)
	if !ok {
		return out
	}
	return append(out, patch.Replace(path, stored))
}

func (w *World) hitScan(out []patch.Command, m HitScan) []patch.Command {
	now := w.now()
	dirAngle := m.Direction.Angle()
	for _, id := range w.ids {
		e := w.entities[id]
		if !e.IsAlive {
			continue
		}
		// 站在射击起点上的实体（通常是射手本人）不会被命中
		target := e.Current(now).Sub(m.From)
		if target.IsZero() {
			continue
		}
		// 精确相等：不加容差
		if target.Angle()-dirAngle != 0 {
			continue
		}
		e.IsAlive = false
		out = append(out, patch.Replace(EntityPath(id, "isAlive"), false))
	}
	return out
}

func (w *World) stopAnimation(out []patch.Command, m StopAnimation) []patch.Command {
	node, ok := w.get(m.Path)
	if !ok {
		return out
	}
	a, ok := anim.FromNode(node)
	if !ok {
		return out
	}
	initialPath, ok := initialPathOf(m.Path)
	if !ok {
		w.log.Warn("stopAnimation: not an animation path", zap.String("path", m.Path))
		return out
	}
	cur, _ := w.get(initialPath)
	initial, _ := patch.Number(cur)

	value := anim.Final(initial, a)
	if !m.Finished {
		value = anim.Value(initial, a, w.now())
	}
	replace := patch.Replace(initialPath, value)
	remove := patch.Remove(m.Path)
	w.apply(replace)
	w.apply(remove)
	return append(out, replace, remove)
}
