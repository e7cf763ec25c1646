package server

import (
	"sync/atomic"
	"time"
)

const (
	// TicksPerSecond 房间协程的维护频率（20 TPS）
	TicksPerSecond = 20
)

var tickInterval = time.Duration(1000/TicksPerSecond) * time.Millisecond // 50ms

// StartTicker 启动房间协程：消息随到随处理，Tick 负责周期性压缩历史
func (r *Room) StartTicker() {
	r.startOnce.Do(func() {
		go r.loop()
	})
}

func (r *Room) loop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	lastCompact := time.Now()
	for {
		select {
		case <-r.done:
			return
		case id := <-r.leave:
			r.removeClient(id)
		case in := <-r.inbox:
			r.handle(in)
		case now := <-ticker.C:
			start := time.Now()
			r.ProcessMessages()
			if now.Sub(lastCompact) >= r.Config().compactInterval() {
				lastCompact = now
				r.compact()
			}
			atomic.AddInt64(&r.tickSeq, 1)
			r.metrics.AddTick(time.Since(start).Nanoseconds())
		}
	}
}

func (r *Room) compact() {
	if to, ok := r.server.Compact(); ok {
		r.log.Debugw("history compacted", "root", to)
	}
}

// TickSeq 已执行的 Tick 数
func (r *Room) TickSeq() int64 {
	return atomic.LoadInt64(&r.tickSeq)
}
