package reconcile

import (
	"go.uber.org/zap"

	"timewarp/patch"
	"timewarp/world"
)

// Uplink 客户端到服务端的上行通道，发送即忘
type Uplink interface {
	Send(data []byte)
}

// Client 预测节点：意图先在本地执行再上报，服务端的修正到达后替换本地历史
type Client struct {
	id  string
	n   *node
	up  Uplink
	log *zap.Logger

	ready   bool
	onReady []func()
}

func NewClient(id string, up Uplink, opts ...Option) *Client {
	st := newSettings(false, opts)
	c := &Client{id: id, up: up, log: st.log.With(zap.String("client", id))}
	c.n = newNode(id, st.config)
	c.n.onFire = c.sendSystemLocked
	return c
}

func (c *Client) ID() string { return c.id }

// Sync 请求完整状态（首次连接或无法对齐修正时）
func (c *Client) Sync() {
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	c.syncLocked()
}

func (c *Client) syncLocked() {
	c.sendLocked(TypeSync, SyncRequest{ClientID: c.id})
}

// Dispatch 乐观执行意图并上报；本地补丁为空时同样上报，由服务端裁决
func (c *Client) Dispatch(in world.Intent) error {
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	if !c.ready {
		return ErrNotReady
	}
	before := c.n.timeline.CurrentStep()
	e := Entry{Intent: in, TriggeredAt: before, ClientID: c.id}
	ts, _ := c.n.dispatchLocked(e, 0, false)
	c.sendLocked(TypeIntent, IntentMessage{ClientID: c.id, StepID: before, Timestamp: ts, Intent: in})
	c.sendSystemLocked(c.n.drainLocked())
	return nil
}

// HandleMessage 处理服务端消息
func (c *Client) HandleMessage(data []byte) error {
	msg, err := DecodeServerMessage(data)
	if err != nil {
		c.log.Warn("drop malformed message", zap.Error(err))
		return err
	}

	c.n.mu.Lock()
	var ready []func()
	switch m := msg.(type) {
	case *SyncState:
		ready = c.syncedLocked(m)
	case *IntentMessage:
		if c.ready {
			c.n.dispatchLocked(m.entry(), m.Timestamp, true)
			c.sendSystemLocked(c.n.drainLocked())
		}
	case *Splice:
		if c.ready {
			c.spliceLocked(m)
		}
	case *Reduce:
		if c.ready {
			c.n.timeline.Reduce(m.To)
		}
	}
	c.n.mu.Unlock()

	for _, fn := range ready {
		fn()
	}
	return nil
}

func (c *Client) syncedLocked(m *SyncState) []func() {
	tl := c.n.timeline
	tl.Reset(m.StepID, m.Snapshot, m.Timeline)
	c.n.hydrateLocked(tl.At(tl.CurrentStep()))
	c.n.queue = nil
	c.log.Debug("synced", zap.Uint64("root", m.StepID), zap.Uint64("current", tl.CurrentStep()))
	if c.ready {
		return nil
	}
	c.ready = true
	return c.onReady
}

// spliceLocked 回到 to-1 步，用权威片段替换其后的历史
func (c *Client) spliceLocked(m *Splice) {
	tl := c.n.timeline
	if m.To == 0 || m.To-1 < tl.InitialStep() || m.To-1 > tl.CurrentStep() {
		c.log.Warn("splice cannot be anchored, resync",
			zap.Uint64("to", m.To),
			zap.Uint64("root", tl.InitialStep()),
			zap.Uint64("current", tl.CurrentStep()))
		c.syncLocked()
		return
	}

	c.n.hydrateLocked(tl.At(m.To - 1))
	if err := tl.Splice(m.To, m.Timeline); err != nil {
		c.log.Error("splice", zap.Error(err))
		c.syncLocked()
		return
	}
	var cmds []patch.Command
	for _, st := range m.Timeline {
		cmds = append(cmds, st.Patch...)
	}
	if len(cmds) > 0 {
		c.n.presentLocked(world.ApplyPatch{Commands: cmds})
	}
	// 片段中已包含服务端合成的系统步
	c.n.queue = nil
}

func (c *Client) sendSystemLocked(steps []systemStep) {
	for _, st := range steps {
		c.sendLocked(TypeIntent, notice(st))
	}
}

func (c *Client) sendLocked(t MessageType, data any) {
	raw, err := Encode(t, data)
	if err != nil {
		c.log.Error("encode message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	c.up.Send(raw)
}

func (c *Client) Ready() bool {
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	return c.ready
}

// OnReady 首次同步完成后调用（锁外）
func (c *Client) OnReady(fn func()) {
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	c.onReady = append(c.onReady, fn)
}

func (c *Client) OnStep(fn func(StepEvent)) { c.n.onStep(fn) }

func (c *Client) World() *world.World { return c.n.world }

func (c *Client) View() TimelineView { return c.n.view() }

func (c *Client) At(id uint64) any { return c.n.at(id) }

func (c *Client) CurrentStep() uint64 {
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	return c.n.timeline.CurrentStep()
}

func (c *Client) PendingAnimations() int { return c.n.pendingAnimations() }

func (c *Client) Close() { c.n.close() }
