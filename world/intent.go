package world

import (
	"encoding/json"
	"errors"
	"fmt"

	"timewarp/patch"
)

// ErrUnknownIntent 无法识别的意图类型
var ErrUnknownIntent = errors.New("world: unknown intent")

// Kind 意图的线上类型标签（稳定，不可改名）
type Kind string

const (
	KindAddPlayer        Kind = "addPlayer"
	KindMoveUp           Kind = "moveUp"
	KindMoveDown         Kind = "moveDown"
	KindMoveLeft         Kind = "moveLeft"
	KindMoveRight        Kind = "moveRight"
	KindTranslateRight   Kind = "translateRight"
	KindShot             Kind = "shot"
	KindStopAnimations   Kind = "stopAnimations"
	KindCancelAnimations Kind = "cancelAnimations"
	KindEndAnimations    Kind = "endAnimations"
	KindApplyPatch       Kind = "applyPatch"
	KindHydrate          Kind = "hydrate"
)

// Intent 用户或系统发起的高层动作。只有本包定义的类型实现该接口。
type Intent interface {
	Kind() Kind
	intent()
}

type AddPlayer struct {
	PlayerID string `json:"playerId"`
}

// Move 单步移动，线上标签由方向决定
type Move struct {
	Dir      Direction `json:"-"`
	PlayerID string    `json:"playerId"`
}

type TranslateRight struct {
	PlayerID string  `json:"playerId"`
	Delta    float64 `json:"delta"`
	Duration *int64  `json:"duration,omitempty"` // 毫秒
}

type Shot struct {
	Shooter   string  `json:"shoter"`
	From      Vector2 `json:"from"`
	Direction Vector2 `json:"direction"`
}

// StopAnimations 中断动画并冻结当前插值
type StopAnimations struct {
	Paths []string `json:"paths"`
}

// CancelAnimations 丢弃动画进度，初始值不变
type CancelAnimations struct {
	Paths []string `json:"paths"`
}

// EndAnimations 直接写入动画终值
type EndAnimations struct {
	Paths []string `json:"paths"`
}

type ApplyPatch struct {
	Commands []patch.Command `json:"commands"`
}

type Hydrate struct {
	Snapshot           any   `json:"snapshot"`
	ShouldRegisterStep *bool `json:"shouldRegisterStep,omitempty"`
}

func (AddPlayer) Kind() Kind        { return KindAddPlayer }
func (TranslateRight) Kind() Kind   { return KindTranslateRight }
func (Shot) Kind() Kind             { return KindShot }
func (StopAnimations) Kind() Kind   { return KindStopAnimations }
func (CancelAnimations) Kind() Kind { return KindCancelAnimations }
func (EndAnimations) Kind() Kind    { return KindEndAnimations }
func (ApplyPatch) Kind() Kind       { return KindApplyPatch }
func (Hydrate) Kind() Kind          { return KindHydrate }

func (m Move) Kind() Kind {
	switch m.Dir {
	case DirUp:
		return KindMoveUp
	case DirDown:
		return KindMoveDown
	case DirLeft:
		return KindMoveLeft
	default:
		return KindMoveRight
	}
}

func (AddPlayer) intent()        {}
func (Move) intent()             {}
func (TranslateRight) intent()   {}
func (Shot) intent()             {}
func (StopAnimations) intent()   {}
func (CancelAnimations) intent() {}
func (EndAnimations) intent()    {}
func (ApplyPatch) intent()       {}
func (Hydrate) intent()          {}

func (h *Hydrate) UnmarshalJSON(data []byte) error {
	var w struct {
		Snapshot           json.RawMessage `json:"snapshot"`
		ShouldRegisterStep *bool           `json:"shouldRegisterStep,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	snapshot, err := patch.Decode(w.Snapshot)
	if err != nil {
		return fmt.Errorf("world: decode hydrate snapshot: %w", err)
	}
	h.Snapshot, h.ShouldRegisterStep = snapshot, w.ShouldRegisterStep
	return nil
}

// registersStep hydrate 默认登记为历史步
func (h Hydrate) registersStep() bool {
	return h.ShouldRegisterStep == nil || *h.ShouldRegisterStep
}

// DecodeIntent 按标签解析意图负载；未知标签返回 ErrUnknownIntent
func DecodeIntent(kind Kind, payload json.RawMessage) (Intent, error) {
	var (
		in  Intent
		err error
	)
	switch kind {
	case KindAddPlayer:
		in, err = decodeAs(payload, AddPlayer{})
	case KindMoveUp, KindMoveDown, KindMoveLeft, KindMoveRight:
		in, err = decodeAs(payload, Move{Dir: directionOf(kind)})
	case KindTranslateRight:
		in, err = decodeAs(payload, TranslateRight{})
	case KindShot:
		in, err = decodeAs(payload, Shot{})
	case KindStopAnimations:
		in, err = decodeAs(payload, StopAnimations{})
	case KindCancelAnimations:
		in, err = decodeAs(payload, CancelAnimations{})
	case KindEndAnimations:
		in, err = decodeAs(payload, EndAnimations{})
	case KindApplyPatch:
		in, err = decodeAs(payload, ApplyPatch{})
	case KindHydrate:
		in, err = decodeAs(payload, Hydrate{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("world: decode %s payload: %w", kind, err)
	}
	return in, nil
}

func decodeAs[T Intent](payload json.RawMessage, v T) (Intent, error) {
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func directionOf(k Kind) Direction {
	switch k {
	case KindMoveUp:
		return DirUp
	case KindMoveDown:
		return DirDown
	case KindMoveLeft:
		return DirLeft
	case KindMoveRight:
		return DirRight
	default:
		return DirNone
	}
}

// Envelope 意图的线上包装：{"type": ..., "payload": {...}}
type Envelope struct {
	Intent Intent
}

type envelopeWire struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Intent == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnknownIntent)
	}
	payload, err := json.Marshal(e.Intent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{Type: e.Intent.Kind(), Payload: payload})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	in, err := DecodeIntent(w.Type, w.Payload)
	if err != nil {
		return err
	}
	e.Intent = in
	return nil
}
