// Package reconcile 在世界模型与时间线之上实现回滚同步协议：
// 服务端按客户端本地时间戳排序并发意图、改写历史并广播修正；客户端乐观执行并接受修正。
package reconcile

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"timewarp/anim"
	"timewarp/patch"
	"timewarp/timeline"
	"timewarp/world"
)

// StepEvent 一次提交后的通知
type StepEvent struct {
	StepID uint64
	Step   Step
	// System 由节点自身（动画结束、死亡）合成的步
	System bool
}

// systemStep 排空队列时提交的系统步
type systemStep struct {
	StepID uint64
	Step   Step
}

type config struct {
	log       *zap.Logger
	now       func() time.Time
	worldOpts []world.Option
	nap       bool
	metrics   Metrics
}

// node 客户端与服务端共用的部分：世界、时间线与动画定时器，一把锁串行所有修改
type node struct {
	mu        sync.Mutex
	log       *zap.Logger
	world     *world.World
	timeline  *timeline.Timeline[Entry]
	nap       *nap
	listeners []func(StepEvent)
	queue     []Entry
	draining  bool
	closed    bool

	// systemID 系统意图记录的发起者
	systemID string

	// onFire 定时器触发的系统步提交后调用（锁内）
	onFire func([]systemStep)
}

func newNode(systemID string, cfg config) *node {
	n := &node{log: cfg.log, systemID: systemID}
	wopts := append([]world.Option{world.WithLogger(cfg.log), world.WithClock(cfg.now)}, cfg.worldOpts...)
	n.world = world.New(wopts...)
	n.timeline = timeline.New[Entry](n.world.Snapshot(),
		timeline.WithLogger(cfg.log),
		timeline.WithClock(cfg.now))
	if cfg.nap {
		n.nap = newNap(cfg.now, n.fire)
	}
	return n
}

// dispatchLocked 完整步进：startStep → translate → present → commit。
// stamped 为 false 时使用本地步进时钟。返回该步的时间戳；
// 提案要求跳过或补丁为空时放弃该步，committed 为 false。
func (n *node) dispatchLocked(e Entry, timestamp int64, stamped bool) (ts int64, committed bool) {
	if stamped {
		n.timeline.StartStepAt(e, timestamp)
	} else {
		timestamp = n.timeline.StartStep(e)
	}
	prop := n.world.Translate(e.Intent)
	p := n.world.Present(prop)
	n.observe(p)
	if prop.SkipStep || len(p) == 0 {
		n.timeline.AbortStep()
		return timestamp, false
	}
	n.timeline.CommitStep(p)
	n.emit(n.draining)
	return timestamp, true
}

func (n *node) emit(system bool) {
	if len(n.listeners) == 0 {
		return
	}
	id := n.timeline.CurrentStep()
	s, _ := n.timeline.Get(id)
	for _, l := range n.listeners {
		l(StepEvent{StepID: id, Step: s, System: system})
	}
}

// presentLocked 应用意图但不登记历史（回滚、接片）
func (n *node) presentLocked(in world.Intent) {
	prop := n.world.Translate(in)
	prop.SkipStep = true
	n.observe(n.world.Present(prop))
}

func (n *node) hydrateLocked(snapshot any) {
	no := false
	n.presentLocked(world.Hydrate{Snapshot: snapshot, ShouldRegisterStep: &no})
}

// drainLocked 依次提交排队的系统意图，返回实际提交的步
func (n *node) drainLocked() []systemStep {
	var out []systemStep
	n.draining = true
	defer func() { n.draining = false }()
	for len(n.queue) > 0 {
		e := n.queue[0]
		n.queue = n.queue[1:]
		e.TriggeredAt = n.timeline.CurrentStep()
		e.ClientID = n.systemID
		if _, ok := n.dispatchLocked(e, 0, false); !ok {
			continue
		}
		id := n.timeline.CurrentStep()
		s, _ := n.timeline.Get(id)
		out = append(out, systemStep{StepID: id, Step: s})
	}
	return out
}

// observe 根据补丁维护动画定时器，并在实体死亡时排队停止其动画
func (n *node) observe(p []patch.Command) {
	if n.nap == nil {
		return
	}
	for _, c := range p {
		switch {
		case c.Path == "/" || c.Path == "" || c.Path == "/entities":
			n.rearmAll()
		case animationPathRe.MatchString(c.Path):
			if c.Op == patch.OpRemove {
				n.nap.cancel(c.Path)
				continue
			}
			if a, ok := anim.FromNode(c.Value); ok {
				n.nap.arm(c.Path, a)
			}
		case animationParentRe.MatchString(c.Path):
			n.rearmEntity(animationParentRe.FindStringSubmatch(c.Path)[1])
		case alivePathRe.MatchString(c.Path):
			if alive, ok := c.Value.(bool); !ok || alive {
				continue
			}
			id := alivePathRe.FindStringSubmatch(c.Path)[1]
			if paths := n.world.AnimationPaths(id); len(paths) > 0 {
				n.queue = append(n.queue, Entry{Intent: world.StopAnimations{Paths: paths}})
			}
		}
	}
}

func (n *node) rearmAll() {
	n.nap.cancelAll()
	for path, a := range n.world.Animations() {
		n.nap.arm(path, a)
	}
}

func (n *node) rearmEntity(id string) {
	n.nap.cancelEntity(id)
	prefix := world.EntityPath(id) + "/"
	for path, a := range n.world.Animations() {
		if strings.HasPrefix(path, prefix) {
			n.nap.arm(path, a)
		}
	}
}

// fire 定时器回调：以系统意图的身份结束动画
func (n *node) fire(path string, token uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !n.nap.take(path, token) {
		return
	}
	n.log.Debug("animation finished", zap.String("path", path))
	n.queue = append(n.queue, Entry{Intent: world.EndAnimations{Paths: []string{path}}})
	steps := n.drainLocked()
	if len(steps) > 0 && n.onFire != nil {
		n.onFire(steps)
	}
}

func (n *node) onStep(fn func(StepEvent)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *node) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.nap != nil {
		n.nap.cancelAll()
	}
}

func (n *node) pendingAnimations() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nap == nil {
		return 0
	}
	return n.nap.pending()
}

// TimelineView 历史的只读视图
type TimelineView struct {
	InitialStep uint64 `json:"initialStep"`
	CurrentStep uint64 `json:"currentStep"`
	Snapshot    any    `json:"snapshot"`
	Steps       []Step `json:"steps"`
}

func (n *node) view() TimelineView {
	n.mu.Lock()
	defer n.mu.Unlock()
	return TimelineView{
		InitialStep: n.timeline.InitialStep(),
		CurrentStep: n.timeline.CurrentStep(),
		Snapshot:    n.timeline.RootSnapshot(),
		Steps:       n.timeline.Steps(),
	}
}

func (n *node) at(id uint64) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.timeline.At(id)
}
