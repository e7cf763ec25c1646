package server

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"timewarp/reconcile"
)

// ErrClientExists 同一房间内 clientId 重复
var ErrClientExists = errors.New("client already connected")

// inbound 一条待处理的客户端消息
type inbound struct {
	clientID string
	data     []byte
}

// Room 房间：权威的 reconcile.Server 加上房间内的连接表。
// 入站消息经通道交给单个协程处理；定时器合成的步可能从其他协程发出，
// 因此连接表由互斥锁保护。
type Room struct {
	ID string

	log     *zap.SugaredLogger
	server  *reconcile.Server
	metrics *RoomMetrics

	mu    sync.RWMutex
	cfg   RoomConfig
	conns map[string]*ClientConn
	order []string

	inbox chan inbound
	leave chan string
	done  chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	tickSeq   int64
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, cfg RoomConfig) *Room {
	r := &Room{
		ID:      id,
		log:     Log.With("room", id),
		metrics: &RoomMetrics{},
		cfg:     cfg,
		conns:   make(map[string]*ClientConn),
		inbox:   make(chan inbound, 256), // 足够缓冲，避免网络读阻塞
		leave:   make(chan string, 64),
		done:    make(chan struct{}),
	}
	opts := append(cfg.tuning(),
		reconcile.WithLogger(Logger().With(zap.String("room", id))),
		reconcile.WithMetrics(r.metrics),
		reconcile.WithWorldOptions(cfg.worldOptions()...),
	)
	r.server = reconcile.NewServer(r, opts...)
	return r
}

// Send 实现 reconcile.Transport：非阻塞写入连接的发送队列
func (r *Room) Send(clientID string, data []byte) {
	r.mu.RLock()
	c, ok := r.conns[clientID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if !c.Enqueue(data) {
		r.metrics.IncChanFullDiscarded()
		r.log.Warnw("send queue full, message discarded", "client", clientID)
	}
}

// Clients 实现 reconcile.Transport：按加入顺序返回在线客户端
func (r *Room) Clients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Join 将客户端连接加入房间
func (r *Room) Join(clientID string, conn *ClientConn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[clientID]; ok {
		return ErrClientExists
	}
	r.conns[clientID] = conn
	r.order = append(r.order, clientID)
	r.log.Infow("client joined", "client", clientID, "conn", conn.ID)
	return nil
}

// Has 客户端是否在线
func (r *Room) Has(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[clientID]
	return ok
}

// Deliver 入站消息，按当前配置模拟丢包与延迟
func (r *Room) Deliver(clientID string, data []byte) {
	cfg := r.Config()
	if cfg.SimulateDropProb > 0 && rand.Float64() < cfg.SimulateDropProb {
		r.metrics.IncDropsSimulated()
		return
	}
	delay := cfg.SimulateDelayMinMs
	if span := cfg.SimulateDelayMaxMs - cfg.SimulateDelayMinMs; span > 0 {
		delay += rand.IntN(span + 1)
	}
	if delay <= 0 {
		r.OnMessage(clientID, data)
		return
	}
	time.AfterFunc(time.Duration(delay)*time.Millisecond, func() { r.OnMessage(clientID, data) })
}

// OnMessage 入站消息排队，等待房间协程处理
func (r *Room) OnMessage(clientID string, data []byte) {
	// 不阻塞：拥塞时丢弃，客户端在下一次修正中自愈
	select {
	case r.inbox <- inbound{clientID: clientID, data: data}:
	default:
		r.metrics.IncChanFullDiscarded()
		r.log.Warnw("inbox full, message discarded", "client", clientID)
	}
}

// RequestLeave 请求在房间协程中移除客户端，避免并发改动
func (r *Room) RequestLeave(clientID string) {
	select {
	case r.leave <- clientID:
	case <-r.done:
	}
}

// ProcessMessages 处理所有已排队的消息（非阻塞 drain）
func (r *Room) ProcessMessages() {
	for {
		select {
		case id := <-r.leave:
			r.removeClient(id)
		case in := <-r.inbox:
			r.handle(in)
		default:
			return
		}
	}
}

func (r *Room) handle(in inbound) {
	if !r.Has(in.clientID) {
		return
	}
	if err := r.server.HandleMessage(in.clientID, in.data); err != nil {
		r.log.Debugw("message dropped", "client", in.clientID, "err", err)
	}
}

func (r *Room) removeClient(clientID string) {
	r.mu.Lock()
	c, ok := r.conns[clientID]
	if ok {
		delete(r.conns, clientID)
		for i, id := range r.order {
			if id == clientID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	c.Close()
	r.server.Disconnect(clientID)
	r.log.Infow("client left", "client", clientID)
}

// Config 当前房间配置副本
func (r *Room) Config() RoomConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Reconfigure 热更新房间配置
func (r *Room) Reconfigure(cfg RoomConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	r.server.Tune(cfg.tuning()...)
	return nil
}

func (r *Room) Server() *reconcile.Server { return r.server }

func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// Close 停止房间协程与定时器，断开所有连接
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.server.Close()
		r.mu.Lock()
		conns := r.conns
		r.conns = make(map[string]*ClientConn)
		r.order = nil
		r.mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
}
