// Package client 通过 WebSocket 把 reconcile.Client 接到 timewarp 服务端。
package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"timewarp/reconcile"
	"timewarp/world"
)

type Options struct {
	URL      string // 例如 ws://localhost:8080/ws
	Room     string
	ClientID string // 为空时随机生成
	Log      *zap.Logger
	// Reconcile 透传给 reconcile.NewClient
	Reconcile []reconcile.Option
}

// Conn 一条到服务端的连接及其上的预测节点
type Conn struct {
	id  string
	ws  *websocket.Conn
	rc  *reconcile.Client
	log *zap.Logger

	out   chan []byte
	ready chan struct{}
}

// Dial 建立连接；调用 Run 后才开始收发
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	id := opts.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	q := u.Query()
	q.Set("clientId", id)
	if opts.Room != "" {
		q.Set("room", opts.Room)
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", u.Redacted(), err)
	}

	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("client", id))
	c := &Conn{
		id:    id,
		ws:    ws,
		log:   log,
		out:   make(chan []byte, 256),
		ready: make(chan struct{}),
	}
	rcOpts := append([]reconcile.Option{reconcile.WithLogger(log)}, opts.Reconcile...)
	c.rc = reconcile.NewClient(id, c, rcOpts...)
	c.rc.OnReady(func() { close(c.ready) })
	return c, nil
}

// Send 实现 reconcile.Uplink（非阻塞，满则丢弃，由后续修正自愈）
func (c *Conn) Send(data []byte) {
	select {
	case c.out <- data:
	default:
		c.log.Warn("uplink queue full, message discarded")
	}
}

// Run 请求同步并驱动读写循环，直到 ctx 结束或连接断开
func (c *Conn) Run(ctx context.Context) error {
	defer c.rc.Close()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return c.readLoop(ctx)
	})
	eg.Go(func() error {
		return c.writeLoop(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		_ = c.ws.Close()
		return nil
	})
	c.rc.Sync()
	return eg.Wait()
}

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("client: read: %w", err)
		}
		if err := c.rc.HandleMessage(data); err != nil {
			c.log.Debug("message dropped", zap.Error(err))
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case data := <-c.out:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("client: write: %w", err)
			}
		}
	}
}

// Close 直接断开连接（未调用 Run 时使用）
func (c *Conn) Close() error {
	c.rc.Close()
	return c.ws.Close()
}

func (c *Conn) ID() string { return c.id }

// Ready 首次同步完成后关闭
func (c *Conn) Ready() <-chan struct{} { return c.ready }

// Dispatch 乐观执行并上报意图
func (c *Conn) Dispatch(in world.Intent) error { return c.rc.Dispatch(in) }

func (c *Conn) Reconciler() *reconcile.Client { return c.rc }

func (c *Conn) World() *world.World { return c.rc.World() }
