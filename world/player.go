package world

import "time"

// Direction 移动方向（权威端解释客户端"意图"）
type Direction int

const (
	DirNone Direction = iota
	DirUp
	DirDown
	DirLeft
	DirRight
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	default:
		return "none"
	}
}

// Player 实体的只读投影（用于展示），位置为插值后的当前值
type Player struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	IsAlive  bool    `json:"isAlive"`
	Ammo     uint32  `json:"ammo"`
	Position Vector2 `json:"position"`
}

// Players 按插入顺序返回所有玩家投影
func (w *World) Players() []Player {
	w.mu.RLock()
	defer w.mu.RUnlock()
	now := w.now()
	out := make([]Player, 0, len(w.ids))
	for _, id := range w.ids {
		out = append(out, project(w.entities[id], now))
	}
	return out
}

// Player 查询单个玩家投影
func (w *World) Player(id string) (Player, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	if !ok {
		return Player{}, false
	}
	return project(e, w.now()), true
}

func project(e *Entity, now time.Time) Player {
	return Player{
		ID:       e.ID,
		Name:     e.Name,
		IsAlive:  e.IsAlive,
		Ammo:     e.Ammo,
		Position: e.Current(now),
	}
}
