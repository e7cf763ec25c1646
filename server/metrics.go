package server

import (
	"sync/atomic"
	"time"

	"timewarp/reconcile"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount         int64 // 统计的 Tick 次数
	IntentsAccepted   int64 // 直接追加到历史的意图数
	IntentsRewritten  int64 // 触发历史改写的迟到意图数
	IntentsDropped    int64 // 因违反协议或无法解析被丢弃的消息数
	IntentsLimited    int64 // 因限速被拒绝的意图数
	SplicesSent       int64 // 发出的修正片段数
	Reductions        int64 // 历史压缩次数
	Syncs             int64 // 完整同步次数
	NapSteps          int64 // 定时器合成的系统步数
	DropsSimulated    int64 // 因模拟丢包被丢弃的消息数
	ChanFullDiscarded int64 // 因通道满被丢弃的消息数
	TotalApplyNs      int64 // 消息处理累计耗时（纳秒）
	MessagesApplied   int64 // 处理过的消息数
	TotalTickNs       int64 // Tick 累计耗时（纳秒）
}

var _ reconcile.Metrics = (*RoomMetrics)(nil)

func (m *RoomMetrics) IntentAccepted()       { atomic.AddInt64(&m.IntentsAccepted, 1) }
func (m *RoomMetrics) IntentRewritten()      { atomic.AddInt64(&m.IntentsRewritten, 1) }
func (m *RoomMetrics) IntentDropped()        { atomic.AddInt64(&m.IntentsDropped, 1) }
func (m *RoomMetrics) RateLimited()          { atomic.AddInt64(&m.IntentsLimited, 1) }
func (m *RoomMetrics) SpliceSent()           { atomic.AddInt64(&m.SplicesSent, 1) }
func (m *RoomMetrics) Reduced()              { atomic.AddInt64(&m.Reductions, 1) }
func (m *RoomMetrics) Synced()               { atomic.AddInt64(&m.Syncs, 1) }
func (m *RoomMetrics) NapStep()              { atomic.AddInt64(&m.NapSteps, 1) }
func (m *RoomMetrics) IncDropsSimulated()    { atomic.AddInt64(&m.DropsSimulated, 1) }
func (m *RoomMetrics) IncChanFullDiscarded() { atomic.AddInt64(&m.ChanFullDiscarded, 1) }

func (m *RoomMetrics) Applied(d time.Duration) {
	atomic.AddInt64(&m.MessagesApplied, 1)
	atomic.AddInt64(&m.TotalApplyNs, d.Nanoseconds())
}

func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	totalTick := atomic.LoadInt64(&m.TotalTickNs)
	applied := atomic.LoadInt64(&m.MessagesApplied)
	totalApply := atomic.LoadInt64(&m.TotalApplyNs)
	return map[string]any{
		"tick_count":          tick,
		"intents_accepted":    atomic.LoadInt64(&m.IntentsAccepted),
		"intents_rewritten":   atomic.LoadInt64(&m.IntentsRewritten),
		"intents_dropped":     atomic.LoadInt64(&m.IntentsDropped),
		"rate_limited":        atomic.LoadInt64(&m.IntentsLimited),
		"splices_sent":        atomic.LoadInt64(&m.SplicesSent),
		"reductions":          atomic.LoadInt64(&m.Reductions),
		"syncs":               atomic.LoadInt64(&m.Syncs),
		"nap_steps":           atomic.LoadInt64(&m.NapSteps),
		"drops_simulated":     atomic.LoadInt64(&m.DropsSimulated),
		"chan_full_discarded": atomic.LoadInt64(&m.ChanFullDiscarded),
		"messages_applied":    applied,
		"avg_apply_ms":        avgMs(totalApply, applied),
		"avg_tick_ms":         avgMs(totalTick, tick),
	}
}

func avgMs(totalNs, n int64) float64 {
	if n == 0 {
		return 0
	}
	return float64(totalNs) / float64(n) / 1e6
}
