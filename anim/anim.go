// Package anim 提供插值动画的纯函数计算，不持有状态。
package anim

import (
	"time"

	"timewarp/patch"
)

// Animation 单轴动画参数：To 与 Delta 二选一
type Animation struct {
	Bezier    [4]float64 `json:"bezier"`
	StartedAt int64      `json:"startedAt"` // unix 毫秒
	Duration  int64      `json:"duration"`  // 毫秒
	To        *float64   `json:"to,omitempty"`
	Delta     *float64   `json:"delta,omitempty"`
}

// ByDelta 构造相对位移动画
func ByDelta(start time.Time, d time.Duration, delta float64, bezier [4]float64) Animation {
	return Animation{Bezier: bezier, StartedAt: start.UnixMilli(), Duration: d.Milliseconds(), Delta: &delta}
}

// To 构造绝对目标动画
func To(start time.Time, d time.Duration, to float64, bezier [4]float64) Animation {
	return Animation{Bezier: bezier, StartedAt: start.UnixMilli(), Duration: d.Milliseconds(), To: &to}
}

// Progress 返回 [0,1] 的时间进度；时长为 0 时视为已完成
func Progress(now time.Time, a Animation) float64 {
	if a.Duration <= 0 {
		return 1
	}
	elapsed := now.UnixMilli() - a.StartedAt
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > a.Duration {
		elapsed = a.Duration
	}
	return float64(elapsed) / float64(a.Duration)
}

// Span 动画的总位移
func Span(initial float64, a Animation) float64 {
	switch {
	case a.To != nil:
		return *a.To - initial
	case a.Delta != nil:
		return *a.Delta
	default:
		return 0
	}
}

// Value 当前插值 = initial + bezier(progress) * span
func Value(initial float64, a Animation, now time.Time) float64 {
	return initial + Ease(a.Bezier, Progress(now, a))*Span(initial, a)
}

// Final 动画结束时的取值
func Final(initial float64, a Animation) float64 {
	return initial + Span(initial, a)
}

// EndsAt 动画结束时刻
func EndsAt(a Animation) time.Time {
	return time.UnixMilli(a.StartedAt + a.Duration)
}

// Remaining 距离结束的剩余时长，不小于 0
func Remaining(a Animation, now time.Time) time.Duration {
	d := EndsAt(a).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Node 转为文档树节点
func (a Animation) Node() map[string]any {
	n := map[string]any{
		"bezier":    []any{a.Bezier[0], a.Bezier[1], a.Bezier[2], a.Bezier[3]},
		"startedAt": float64(a.StartedAt),
		"duration":  float64(a.Duration),
	}
	if a.To != nil {
		n["to"] = *a.To
	}
	if a.Delta != nil {
		n["delta"] = *a.Delta
	}
	return n
}

// FromNode 从文档树节点读取动画参数
func FromNode(v any) (Animation, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Animation{}, false
	}
	var a Animation
	if bz, ok := m["bezier"].([]any); ok && len(bz) == 4 {
		for i, c := range bz {
			a.Bezier[i], _ = patch.Number(c)
		}
	} else {
		a.Bezier = Linear
	}
	if f, ok := patch.Number(m["startedAt"]); ok {
		a.StartedAt = int64(f)
	}
	if f, ok := patch.Number(m["duration"]); ok {
		a.Duration = int64(f)
	}
	if f, ok := patch.Number(m["to"]); ok {
		a.To = &f
	}
	if f, ok := patch.Number(m["delta"]); ok {
		a.Delta = &f
	}
	return a, true
}
