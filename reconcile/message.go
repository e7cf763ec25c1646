package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"

	"timewarp/patch"
	"timewarp/timeline"
	"timewarp/world"
)

var (
	// ErrUnknownMessage 无法识别的消息类型
	ErrUnknownMessage = errors.New("reconcile: unknown message")
	// ErrProtocol 违反协议的请求（已被丢弃）
	ErrProtocol = errors.New("reconcile: protocol violation")
	// ErrNotReady 客户端尚未完成首次同步
	ErrNotReady = errors.New("reconcile: client not synced")
)

// Entry 历史中记录的意图：意图本身、发起时所在的步以及发起者
type Entry struct {
	Intent      world.Intent
	TriggeredAt uint64
	ClientID    string
}

// Step 协议层使用的历史步
type Step = timeline.Step[Entry]

type entryWire struct {
	Type        world.Kind      `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	TriggeredAt uint64          `json:"triggeredAtStepId"`
	ClientID    string          `json:"clientId,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Intent == nil {
		return nil, fmt.Errorf("%w: nil", world.ErrUnknownIntent)
	}
	payload, err := json.Marshal(e.Intent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entryWire{
		Type:        e.Intent.Kind(),
		Payload:     payload,
		TriggeredAt: e.TriggeredAt,
		ClientID:    e.ClientID,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	in, err := world.DecodeIntent(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*e = Entry{Intent: in, TriggeredAt: w.TriggeredAt, ClientID: w.ClientID}
	return nil
}

// MessageType 线上消息类型
type MessageType string

const (
	TypeSync   MessageType = "sync"
	TypeIntent MessageType = "intent"
	TypeSplice MessageType = "splice"
	TypeReduce MessageType = "reduce"
)

// Message 线上消息外层：{"type": ..., "data": {...}}
type Message struct {
	Type MessageType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SyncRequest 客户端 → 服务端：请求完整状态
type SyncRequest struct {
	ClientID string `json:"clientId"`
}

// SyncState 服务端 → 客户端：根快照与完整历史
type SyncState struct {
	StepID   uint64 `json:"stepId"`
	Snapshot any    `json:"snapshot"`
	Timeline []Step `json:"timeline"`
}

func (s *SyncState) UnmarshalJSON(data []byte) error {
	var w struct {
		StepID   uint64          `json:"stepId"`
		Snapshot json.RawMessage `json:"snapshot"`
		Timeline []Step          `json:"timeline"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	snapshot, err := patch.Decode(w.Snapshot)
	if err != nil {
		return fmt.Errorf("reconcile: decode sync snapshot: %w", err)
	}
	*s = SyncState{StepID: w.StepID, Snapshot: snapshot, Timeline: w.Timeline}
	return nil
}

// IntentMessage 双向使用：客户端上报意图；服务端把已接受的意图原样转发给其他客户端。
// StepID 为发起者当时的步编号，Timestamp 为发起者本地步进时钟读数。
type IntentMessage struct {
	ClientID  string
	StepID    uint64
	Timestamp int64
	Intent    world.Intent
}

type intentWire struct {
	ClientID  string          `json:"clientId"`
	StepID    uint64          `json:"stepId"`
	Timestamp int64           `json:"timestamp"`
	Type      world.Kind      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func (m IntentMessage) MarshalJSON() ([]byte, error) {
	if m.Intent == nil {
		return nil, fmt.Errorf("%w: nil", world.ErrUnknownIntent)
	}
	payload, err := json.Marshal(m.Intent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(intentWire{
		ClientID:  m.ClientID,
		StepID:    m.StepID,
		Timestamp: m.Timestamp,
		Type:      m.Intent.Kind(),
		Payload:   payload,
	})
}

func (m *IntentMessage) UnmarshalJSON(data []byte) error {
	var w intentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	in, err := world.DecodeIntent(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*m = IntentMessage{ClientID: w.ClientID, StepID: w.StepID, Timestamp: w.Timestamp, Intent: in}
	return nil
}

func (m IntentMessage) entry() Entry {
	return Entry{Intent: m.Intent, TriggeredAt: m.StepID, ClientID: m.ClientID}
}

// Splice 服务端 → 客户端：丢弃编号不小于 To 的步，接上权威片段
type Splice struct {
	To       uint64 `json:"to"`
	Timeline []Step `json:"timeline"`
}

// Reduce 服务端 → 客户端：压缩到 To
type Reduce struct {
	To uint64 `json:"to"`
}

// Encode 编码为线上消息
func Encode(t MessageType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("reconcile: encode %s: %w", t, err)
	}
	return json.Marshal(Message{Type: t, Data: raw})
}

// DecodeClientMessage 解析客户端发往服务端的消息：*SyncRequest 或 *IntentMessage
func DecodeClientMessage(data []byte) (any, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("reconcile: decode message: %w", err)
	}
	var out any
	switch m.Type {
	case TypeSync:
		out = &SyncRequest{}
	case TypeIntent:
		out = &IntentMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	if err := json.Unmarshal(m.Data, out); err != nil {
		return nil, fmt.Errorf("reconcile: decode %s: %w", m.Type, err)
	}
	return out, nil
}

// DecodeServerMessage 解析服务端发往客户端的消息：*SyncState、*IntentMessage、*Splice 或 *Reduce
func DecodeServerMessage(data []byte) (any, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("reconcile: decode message: %w", err)
	}
	var out any
	switch m.Type {
	case TypeSync:
		out = &SyncState{}
	case TypeIntent:
		out = &IntentMessage{}
	case TypeSplice:
		out = &Splice{}
	case TypeReduce:
		out = &Reduce{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	if err := json.Unmarshal(m.Data, out); err != nil {
		return nil, fmt.Errorf("reconcile: decode %s: %w", m.Type, err)
	}
	return out, nil
}
