// Package timeline 保存以根快照为锚点的步进历史，支持任意时刻重建、改写过去与压缩。
//
// 步编号约定：rootStepID 对应根快照；steps[k] 提交后得到第 rootStepID+k+1 步的快照。
// Timeline 不是并发安全的，由持有者串行调用。
package timeline

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timewarp/patch"
)

// ErrOutOfRange 步编号落在已知历史之外
var ErrOutOfRange = errors.New("timeline: step out of range")

// Step 一条已提交的历史：触发它的意图、本地时间戳（毫秒）与产生的补丁
type Step[I any] struct {
	Intent    I               `json:"intent"`
	Timestamp int64           `json:"timestamp"`
	Patch     []patch.Command `json:"patch"`
}

type pendingStep[I any] struct {
	intent    I
	timestamp int64
}

type Timeline[I any] struct {
	log *zap.Logger
	now func() time.Time

	root     uint64
	snapshot any
	steps    []Step[I]

	clock   time.Time
	pending *pendingStep[I]
}

type Option func(*options)

type options struct {
	log   *zap.Logger
	now   func() time.Time
	start uint64
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStartStep 根快照对应的步编号
func WithStartStep(id uint64) Option {
	return func(o *options) { o.start = id }
}

// New 以根快照创建时间线，快照会被深拷贝
func New[I any](root any, opts ...Option) *Timeline[I] {
	o := options{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Timeline[I]{
		log:      o.log,
		now:      o.now,
		root:     o.start,
		snapshot: patch.Clone(root),
		clock:    o.now(),
	}
}

// StartStep 登记待提交的意图，返回距上次步进时钟重置经过的毫秒数
func (t *Timeline[I]) StartStep(intent I) int64 {
	ts := t.now().Sub(t.clock).Milliseconds()
	t.StartStepAt(intent, ts)
	return ts
}

// StartStepAt 以给定时间戳登记意图（服务端使用客户端上报的时间戳）
func (t *Timeline[I]) StartStepAt(intent I, timestamp int64) {
	if t.pending != nil {
		t.log.Warn("start step while another step is pending, replacing it",
			zap.Uint64("step", t.CurrentStep()))
	}
	t.pending = &pendingStep[I]{intent: intent, timestamp: timestamp}
}

// CommitStep 把待提交意图与补丁组成新步追加到历史，并重置步进时钟。
// 没有待提交意图时丢弃该补丁并返回 false。
func (t *Timeline[I]) CommitStep(p []patch.Command) bool {
	if t.pending == nil {
		t.log.Warn("commit without pending step dropped", zap.Int("commands", len(p)))
		return false
	}
	t.steps = append(t.steps, Step[I]{
		Intent:    t.pending.intent,
		Timestamp: t.pending.timestamp,
		Patch:     p,
	})
	t.pending = nil
	t.clock = t.now()
	return true
}

// AbortStep 放弃待提交意图
func (t *Timeline[I]) AbortStep() {
	t.pending = nil
}

func (t *Timeline[I]) Pending() bool { return t.pending != nil }

func (t *Timeline[I]) CurrentStep() uint64 { return t.root + uint64(len(t.steps)) }

func (t *Timeline[I]) InitialStep() uint64 { return t.root }

// RootSnapshot 根快照副本
func (t *Timeline[I]) RootSnapshot() any { return patch.Clone(t.snapshot) }

func (t *Timeline[I]) Len() int { return len(t.steps) }

// Steps 全部历史的副本
func (t *Timeline[I]) Steps() []Step[I] { return append([]Step[I](nil), t.steps...) }

// Get 返回编号为 id 的步（id 属于 (root, current]）
func (t *Timeline[I]) Get(id uint64) (Step[I], bool) {
	if id <= t.root || id > t.CurrentStep() {
		return Step[I]{}, false
	}
	return t.steps[id-t.root-1], true
}

// Slice 返回编号不小于 from 的所有步的副本
func (t *Timeline[I]) Slice(from uint64) []Step[I] {
	return append([]Step[I](nil), t.steps[t.index(from):]...)
}

// index 编号 id 的步在 steps 中的下标，夹在 [0, len] 内
func (t *Timeline[I]) index(id uint64) int {
	switch {
	case id <= t.root:
		return 0
	case id > t.CurrentStep():
		return len(t.steps)
	default:
		return int(id - t.root - 1)
	}
}

// clamp 把步编号夹在 [root, current] 内
func (t *Timeline[I]) clamp(id uint64) uint64 {
	if id < t.root {
		return t.root
	}
	if cur := t.CurrentStep(); id > cur {
		return cur
	}
	return id
}

// At 通过重放重建第 id 步的快照；id 超过当前步时取当前步
func (t *Timeline[I]) At(id uint64) any {
	id = t.clamp(id)
	doc := patch.Clone(t.snapshot)
	for _, s := range t.steps[:id-t.root] {
		doc = patch.ApplyAll(doc, s.Patch, t.skipped)
	}
	return doc
}

// PatchFromTo 把第 a 步快照推进到第 b 步快照所需的补丁
func (t *Timeline[I]) PatchFromTo(a, b uint64) []patch.Command {
	a, b = t.clamp(a), t.clamp(b)
	var out []patch.Command
	for id := a; id < b; id++ {
		out = append(out, t.steps[id-t.root].Patch...)
	}
	return out
}

func (t *Timeline[I]) skipped(cmd patch.Command, err error) {
	t.log.Debug("replay command skipped", zap.String("command", cmd.String()), zap.Error(err))
}

// ForkPast 在第 from 步处截断历史，把被截下的旧分支（独占副本）交给 rewrite，
// rewrite 通过 StartStep/CommitStep 或 Append 写入新的尾部。返回新尾部。
func (t *Timeline[I]) ForkPast(from uint64, rewrite func(old []Step[I], tl *Timeline[I])) []Step[I] {
	from = t.clamp(from)
	cut := int(from - t.root)
	old := append([]Step[I](nil), t.steps[cut:]...)
	t.steps = t.steps[:cut:cut]
	t.pending = nil
	t.clock = t.now()
	if rewrite != nil {
		rewrite(old, t)
	}
	return t.Slice(from + 1)
}

// Append 直接追加已提交的步
func (t *Timeline[I]) Append(steps ...Step[I]) {
	t.steps = append(t.steps, steps...)
}

// Reduce 把第 to 步之前的历史折叠进根快照
func (t *Timeline[I]) Reduce(to uint64) {
	to = t.clamp(to)
	if to == t.root {
		return
	}
	t.snapshot = t.At(to)
	t.steps = append([]Step[I](nil), t.steps[to-t.root:]...)
	t.root = to
}

// Reset 整体替换时间线（客户端同步时使用）
func (t *Timeline[I]) Reset(stepID uint64, root any, steps []Step[I]) {
	t.root = stepID
	t.snapshot = patch.Clone(root)
	t.steps = append([]Step[I](nil), steps...)
	t.pending = nil
	t.clock = t.now()
}

// Splice 丢弃编号不小于 to 的步，接上权威的替换片段
func (t *Timeline[I]) Splice(to uint64, steps []Step[I]) error {
	if to == 0 || to-1 < t.root || to-1 > t.CurrentStep() {
		return fmt.Errorf("%w: splice at %d, history is (%d, %d]", ErrOutOfRange, to, t.root, t.CurrentStep())
	}
	cut := int(to - 1 - t.root)
	t.steps = append(t.steps[:cut:cut], steps...)
	t.pending = nil
	t.clock = t.now()
	return nil
}
