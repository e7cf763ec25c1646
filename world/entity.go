package world

import (
	"math"
	"sort"
	"time"

	"timewarp/anim"
	"timewarp/patch"
)

// Vector2 二维向量
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vector2) Sub(o Vector2) Vector2 { return Vector2{X: v.X - o.X, Y: v.Y - o.Y} }

func (v Vector2) IsZero() bool { return v.X == 0 && v.Y == 0 }

// Angle 与 x 轴正方向的夹角（弧度）
func (v Vector2) Angle() float64 { return math.Atan2(v.Y, v.X) }

// Axis 动画轴
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

// Position 位置 = 步进时的初始值 + 每轴至多一个进行中的动画
type Position struct {
	Initial   Vector2
	Animation map[Axis]anim.Animation
}

// Entity 世界中的实体，唯一归属于 World
type Entity struct {
	ID       string
	Name     string
	IsAlive  bool
	Ammo     uint32
	Position Position
}

// Current 按时间插值后的当前位置
func (e *Entity) Current(now time.Time) Vector2 {
	out := e.Position.Initial
	if a, ok := e.Position.Animation[AxisX]; ok {
		out.X = anim.Value(e.Position.Initial.X, a, now)
	}
	if a, ok := e.Position.Animation[AxisY]; ok {
		out.Y = anim.Value(e.Position.Initial.Y, a, now)
	}
	return out
}

func (e *Entity) axes() []Axis {
	axes := make([]Axis, 0, len(e.Position.Animation))
	for axis := range e.Position.Animation {
		axes = append(axes, axis)
	}
	sort.Slice(axes, func(i, j int) bool { return axes[i] < axes[j] })
	return axes
}

// node 序列化为文档树节点，每次返回全新副本
func (e *Entity) node() map[string]any {
	animation := make(map[string]any, len(e.Position.Animation))
	for axis, a := range e.Position.Animation {
		animation[string(axis)] = a.Node()
	}
	return map[string]any{
		"id":      e.ID,
		"name":    e.Name,
		"isAlive": e.IsAlive,
		"ammo":    float64(e.Ammo),
		"position": map[string]any{
			"initial": map[string]any{
				"x": e.Position.Initial.X,
				"y": e.Position.Initial.Y,
			},
			"animation": animation,
		},
	}
}

// load 从文档节点覆盖实体字段，缺失的字段取零值
func (e *Entity) load(key string, v any) {
	m, _ := v.(map[string]any)
	e.ID = key
	if id, ok := m["id"].(string); ok && id != "" {
		e.ID = id
	}
	e.Name, _ = m["name"].(string)
	e.IsAlive, _ = m["isAlive"].(bool)
	e.Ammo = toAmmo(m["ammo"])

	e.Position = Position{Animation: make(map[Axis]anim.Animation)}
	pos, _ := m["position"].(map[string]any)
	if initial, ok := pos["initial"].(map[string]any); ok {
		e.Position.Initial.X, _ = patch.Number(initial["x"])
		e.Position.Initial.Y, _ = patch.Number(initial["y"])
	}
	if animations, ok := pos["animation"].(map[string]any); ok {
		for axis, node := range animations {
			if a, ok := anim.FromNode(node); ok {
				e.Position.Animation[Axis(axis)] = a
			}
		}
	}
}

func toAmmo(v any) uint32 {
	f, ok := patch.Number(v)
	if !ok || f <= 0 || math.IsNaN(f) {
		return 0
	}
	if f >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(f)
}

func newEntity(key string, v any) *Entity {
	e := &Entity{}
	e.load(key, v)
	return e
}

// NewEntityNode 构造新玩家实体的文档节点
func NewEntityNode(id string, ammo uint32) map[string]any {
	e := &Entity{ID: id, Name: id, IsAlive: true, Ammo: ammo}
	return e.node()
}

// EntityPath 实体路径
func EntityPath(id string, rest ...string) string {
	return patch.Join(append([]string{"entities", id}, rest...)...)
}

// InitialPath 某轴初始值路径
func InitialPath(id string, axis Axis) string {
	return EntityPath(id, "position", "initial", string(axis))
}

// AnimationPath 某轴动画路径
func AnimationPath(id string, axis Axis) string {
	return EntityPath(id, "position", "animation", string(axis))
}

// initialPathOf 把动画路径映射为对应的初始值路径
func initialPathOf(animationPath string) (string, bool) {
	segs := patch.Split(animationPath)
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] == "animation" {
			out := append([]string(nil), segs...)
			out[i] = "initial"
			return patch.Join(out...), true
		}
	}
	return "", false
}
