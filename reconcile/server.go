package reconcile

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"timewarp/timeline"
	"timewarp/world"
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks timewarp/reconcile Transport,Uplink

// Transport 服务端到各客户端的下行通道。发送即忘，实现需并发安全。
type Transport interface {
	Send(clientID string, data []byte)
	Clients() []string
}

// Server 权威节点：按客户端本地时间戳决定并发意图的顺序，必要时改写历史并广播修正
type Server struct {
	n         *node
	transport Transport
	log       *zap.Logger
	metrics   Metrics

	maxLead    uint64
	reduceLag  uint64
	maxHistory int
	limit      rate.Limit
	burst      int

	// acks 各客户端最近上报的步编号，决定可以安全压缩到哪里
	acks     map[string]uint64
	limiters map[string]*rate.Limiter
}

func NewServer(t Transport, opts ...Option) *Server {
	st := newSettings(true, opts)
	s := &Server{
		transport:  t,
		log:        st.log,
		metrics:    st.metrics,
		maxLead:    st.maxLead,
		reduceLag:  st.reduceLag,
		maxHistory: st.maxHistory,
		limit:      st.limit,
		burst:      st.burst,
		acks:       make(map[string]uint64),
		limiters:   make(map[string]*rate.Limiter),
	}
	s.n = newNode("", st.config)
	s.n.onFire = s.broadcastSystemLocked
	return s
}

// HandleMessage 处理来自 clientID 的一条消息。被丢弃的请求返回错误，调用方只需记录。
func (s *Server) HandleMessage(clientID string, data []byte) error {
	msg, err := DecodeClientMessage(data)
	if err != nil {
		s.metrics.IntentDropped()
		s.log.Warn("drop malformed message", zap.String("client", clientID), zap.Error(err))
		return err
	}

	start := time.Now()
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	defer func() { s.metrics.Applied(time.Since(start)) }()

	switch m := msg.(type) {
	case *SyncRequest:
		if clientID == "" {
			clientID = m.ClientID
		}
		s.syncLocked(clientID)
		return nil
	case *IntentMessage:
		if clientID != "" {
			m.ClientID = clientID
		}
		return s.intentLocked(m)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func (s *Server) syncLocked(clientID string) {
	tl := s.n.timeline
	s.acks[clientID] = tl.CurrentStep()
	s.sendLocked(clientID, TypeSync, SyncState{
		StepID:   tl.InitialStep(),
		Snapshot: tl.RootSnapshot(),
		Timeline: tl.Steps(),
	})
	s.metrics.Synced()
	s.log.Debug("client synced", zap.String("client", clientID), zap.Uint64("step", tl.CurrentStep()))
}

func (s *Server) intentLocked(m *IntentMessage) error {
	tl := s.n.timeline
	root, cur := tl.InitialStep(), tl.CurrentStep()

	if !s.allow(m.ClientID) {
		s.metrics.RateLimited()
		s.log.Warn("intent rate limited", zap.String("client", m.ClientID), zap.String("intent", string(m.Intent.Kind())))
		s.correctLocked(m.ClientID, m.StepID)
		return fmt.Errorf("%w: %s rate limited", ErrProtocol, m.ClientID)
	}

	switch {
	case m.StepID < root:
		// 目标步已被压缩，无法再插入历史；让客户端整体重新同步
		s.metrics.IntentDropped()
		s.log.Warn("drop intent for compacted step",
			zap.String("client", m.ClientID), zap.Uint64("step", m.StepID), zap.Uint64("root", root))
		s.syncLocked(m.ClientID)
		return fmt.Errorf("%w: step %d before root %d", ErrProtocol, m.StepID, root)
	case m.StepID > cur+s.maxLead:
		s.metrics.IntentDropped()
		s.log.Warn("drop intent beyond known history",
			zap.String("client", m.ClientID), zap.Uint64("step", m.StepID), zap.Uint64("current", cur))
		s.correctLocked(m.ClientID, m.StepID)
		return fmt.Errorf("%w: step %d beyond current %d", ErrProtocol, m.StepID, cur)
	}

	s.acks[m.ClientID] = m.StepID
	if m.StepID >= cur {
		s.extendLocked(m)
	} else {
		s.rewriteLocked(m)
	}
	return nil
}

// extendLocked 客户端与服务端同步或领先：直接追加
func (s *Server) extendLocked(m *IntentMessage) {
	before := s.n.timeline.CurrentStep()
	_, committed := s.n.dispatchLocked(m.entry(), m.Timestamp, true)
	system := s.n.drainLocked()
	s.metrics.IntentAccepted()

	switch {
	case len(system) > 0:
		// 引发了系统步（如命中后停止动画）：其他客户端直接接收服务端补丁
		from := system[0].StepID
		if committed {
			from = before + 1
		}
		s.spliceSystemLocked(system, from, m.ClientID)
	case committed:
		s.broadcastLocked(TypeIntent, *m, m.ClientID)
	}

	// 确认发起者：用权威片段替换它从发起时起的乐观历史
	to := min(m.StepID, before) + 1
	s.sendLocked(m.ClientID, TypeSplice, Splice{To: to, Timeline: s.n.timeline.Slice(to)})
	s.metrics.SpliceSent()
}

// rewriteLocked 迟到的意图：找到插入点，改写其后的历史并广播
func (s *Server) rewriteLocked(m *IntentMessage) {
	tl := s.n.timeline
	f := s.forkPointLocked(m.StepID, m.Timestamp)

	s.n.hydrateLocked(tl.At(f))
	entry := m.entry()
	tl.ForkPast(f, func(old []Step, _ *timeline.Timeline[Entry]) {
		s.n.dispatchLocked(entry, m.Timestamp, true)
		for _, st := range old {
			s.n.dispatchLocked(st.Intent, st.Timestamp, true)
		}
	})
	for range s.n.drainLocked() {
		s.metrics.NapStep()
	}
	s.metrics.IntentRewritten()

	to := m.StepID + 1
	s.log.Info("history rewritten",
		zap.String("client", m.ClientID),
		zap.Uint64("step", m.StepID),
		zap.Uint64("fork", f),
		zap.Int64("timestamp", m.Timestamp),
		zap.Uint64("current", tl.CurrentStep()))
	s.broadcastLocked(TypeSplice, Splice{To: to, Timeline: tl.Slice(to)}, "")
	s.metrics.SpliceSent()
}

// forkPointLocked 在 stepID 之后寻找插入点：时间戳最早者优先。
// 比紧随其后的一步更早时插在 stepID 处；否则在同样发起于 stepID 的并发步中，
// 插在第一个时间戳更大者之前，都不更大则插在最后一个之后。
func (s *Server) forkPointLocked(stepID uint64, timestamp int64) uint64 {
	tl := s.n.timeline
	next, ok := tl.Get(stepID + 1)
	if !ok || timestamp < next.Timestamp {
		return stepID
	}
	f := stepID
	for id := stepID + 1; id <= tl.CurrentStep(); id++ {
		st, _ := tl.Get(id)
		if st.Intent.TriggeredAt != stepID {
			continue
		}
		if st.Timestamp > timestamp {
			return id - 1
		}
		f = id
	}
	return f
}

// correctLocked 让客户端丢弃服务端没有接受的乐观步
func (s *Server) correctLocked(clientID string, stepID uint64) {
	tl := s.n.timeline
	to := min(stepID, tl.CurrentStep()) + 1
	if to-1 < tl.InitialStep() {
		s.syncLocked(clientID)
		return
	}
	s.sendLocked(clientID, TypeSplice, Splice{To: to, Timeline: tl.Slice(to)})
	s.metrics.SpliceSent()
}

func (s *Server) allow(clientID string) bool {
	if s.limit == rate.Inf {
		return true
	}
	l, ok := s.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[clientID] = l
	}
	return l.Allow()
}

// broadcastSystemLocked 定时器触发的系统步下发给所有客户端
func (s *Server) broadcastSystemLocked(steps []systemStep) {
	if len(steps) > 0 {
		s.spliceSystemLocked(steps, steps[0].StepID, "")
	}
}

// spliceSystemLocked 把 to 起的历史（含系统步）连同服务端补丁以片段下发。
// 结束、停止动画的取值依赖执行时刻，客户端不能按自己的时钟重新翻译。
func (s *Server) spliceSystemLocked(steps []systemStep, to uint64, except string) {
	for range steps {
		s.metrics.NapStep()
	}
	s.broadcastLocked(TypeSplice, Splice{To: to, Timeline: s.n.timeline.Slice(to)}, except)
	s.metrics.SpliceSent()
}

// notice 客户端合成的系统步以意图的形式上报
func notice(st systemStep) IntentMessage {
	return IntentMessage{
		ClientID:  st.Step.Intent.ClientID,
		StepID:    st.Step.Intent.TriggeredAt,
		Timestamp: st.Step.Timestamp,
		Intent:    st.Step.Intent.Intent,
	}
}

// Compact 把所有已连接客户端都确认过的历史折叠进根快照，并通知客户端同样压缩
func (s *Server) Compact() (uint64, bool) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()

	tl := s.n.timeline
	root, cur := tl.InitialStep(), tl.CurrentStep()
	target := cur
	for _, id := range s.transport.Clients() {
		if a, ok := s.acks[id]; ok && a < target {
			target = a
		}
	}
	if target > s.reduceLag {
		target -= s.reduceLag
	} else {
		target = 0
	}
	if s.maxHistory > 0 && cur > uint64(s.maxHistory) && target < cur-uint64(s.maxHistory) {
		target = cur - uint64(s.maxHistory)
	}
	if target <= root {
		return root, false
	}

	tl.Reduce(target)
	s.broadcastLocked(TypeReduce, Reduce{To: target}, "")
	s.metrics.Reduced()
	s.log.Debug("timeline reduced", zap.Uint64("root", target), zap.Uint64("current", cur))
	return target, true
}

// Tune 运行期调整服务端参数（MaxLead、ReduceLag、MaxHistory、RateLimit），其余选项被忽略。
// 速率变化后各客户端的令牌桶重新开始计数。
func (s *Server) Tune(opts ...Option) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	st := settings{
		maxLead:    s.maxLead,
		reduceLag:  s.reduceLag,
		maxHistory: s.maxHistory,
		limit:      s.limit,
		burst:      s.burst,
	}
	for _, opt := range opts {
		opt(&st)
	}
	if st.limit != s.limit || st.burst != s.burst {
		s.limiters = make(map[string]*rate.Limiter)
	}
	s.maxLead, s.reduceLag, s.maxHistory = st.maxLead, st.reduceLag, st.maxHistory
	s.limit, s.burst = st.limit, st.burst
}

// Disconnect 清理客户端的确认与限速状态
func (s *Server) Disconnect(clientID string) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	delete(s.acks, clientID)
	delete(s.limiters, clientID)
}

func (s *Server) sendLocked(clientID string, t MessageType, data any) {
	raw, err := Encode(t, data)
	if err != nil {
		s.log.Error("encode message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	s.transport.Send(clientID, raw)
}

func (s *Server) broadcastLocked(t MessageType, data any, except string) {
	raw, err := Encode(t, data)
	if err != nil {
		s.log.Error("encode message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	for _, id := range s.transport.Clients() {
		if id == except {
			continue
		}
		s.transport.Send(id, raw)
	}
}

// World 当前世界（只读使用）
func (s *Server) World() *world.World { return s.n.world }

func (s *Server) View() TimelineView { return s.n.view() }

func (s *Server) At(id uint64) any { return s.n.at(id) }

func (s *Server) CurrentStep() uint64 {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	return s.n.timeline.CurrentStep()
}

// OnStep 注册提交监听，在锁内同步调用，监听者不得回调 Server
func (s *Server) OnStep(fn func(StepEvent)) { s.n.onStep(fn) }

// PendingAnimations 尚未触发的动画定时器数量
func (s *Server) PendingAnimations() int { return s.n.pendingAnimations() }

// Close 停止所有定时器
func (s *Server) Close() { s.n.close() }
