package client

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"timewarp/world"
)

// Bot 随机操作的压测客户端：加入后按固定节奏发出移动、平移、射击与停止动画
type Bot struct {
	conn    *Conn
	rng     *rand.Rand
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewBot(conn *Conn, interval time.Duration, seed uint64) *Bot {
	return &Bot{
		conn:    conn,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		log:     conn.log,
	}
}

// Run 阻塞直到 ctx 结束
func (b *Bot) Run(ctx context.Context) error {
	select {
	case <-b.conn.Ready():
	case <-ctx.Done():
		return nil
	}
	id := b.conn.ID()
	if err := b.conn.Dispatch(world.AddPlayer{PlayerID: id}); err != nil {
		return err
	}
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil
		}
		in := b.next(id)
		if err := b.conn.Dispatch(in); err != nil {
			return err
		}
		b.log.Debug("bot dispatched", zap.String("intent", string(in.Kind())))
	}
}

func (b *Bot) next(id string) world.Intent {
	switch n := b.rng.IntN(10); {
	case n < 5:
		return world.Move{Dir: world.Direction(1 + b.rng.IntN(4)), PlayerID: id}
	case n < 7:
		d := int64(50 + b.rng.IntN(450))
		return world.TranslateRight{PlayerID: id, Delta: float64(1 + b.rng.IntN(5)), Duration: &d}
	case n < 9:
		if shot, ok := b.aim(id); ok {
			return shot
		}
		return world.Move{Dir: world.DirRight, PlayerID: id}
	default:
		return world.StopAnimations{Paths: b.conn.World().AnimationPaths(id)}
	}
}

// aim 朝一个随机存活的对手射击
func (b *Bot) aim(id string) (world.Shot, bool) {
	self, ok := b.conn.World().Player(id)
	if !ok || !self.IsAlive || self.Ammo == 0 {
		return world.Shot{}, false
	}
	var targets []world.Player
	for _, p := range b.conn.World().Players() {
		if p.ID != id && p.IsAlive {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return world.Shot{}, false
	}
	t := targets[b.rng.IntN(len(targets))]
	return world.Shot{Shooter: id, From: self.Position, Direction: t.Position.Sub(self.Position)}, true
}
