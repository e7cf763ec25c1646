package reconcile

import (
	"github.com/invopop/jsonschema"

	"timewarp/world"
)

// 以下结构只描述线上形态，用于生成 JSON Schema

type commandDoc struct {
	Op    string `json:"op" jsonschema:"enum=add,enum=replace,enum=remove,enum=push"`
	Path  string `json:"path" jsonschema:"pattern=^/"`
	Value any    `json:"value,omitempty"`
}

type entryDoc struct {
	Type        world.Kind `json:"type" jsonschema:"description=intent tag"`
	Payload     any        `json:"payload"`
	TriggeredAt uint64     `json:"triggeredAtStepId"`
	ClientID    string     `json:"clientId,omitempty" jsonschema:"description=empty for system steps"`
}

type stepDoc struct {
	Intent    entryDoc     `json:"intent"`
	Timestamp int64        `json:"timestamp" jsonschema:"description=milliseconds since the previous commit"`
	Patch     []commandDoc `json:"patch"`
}

type intentDoc struct {
	ClientID  string     `json:"clientId"`
	StepID    uint64     `json:"stepId"`
	Timestamp int64      `json:"timestamp"`
	Type      world.Kind `json:"type"`
	Payload   any        `json:"payload"`
}

type syncStateDoc struct {
	StepID   uint64    `json:"stepId"`
	Snapshot any       `json:"snapshot"`
	Timeline []stepDoc `json:"timeline"`
}

type spliceDoc struct {
	To       uint64    `json:"to" jsonschema:"description=first replaced step id"`
	Timeline []stepDoc `json:"timeline"`
}

// Schema 生成线上消息 data 部分的 JSON Schema，键为 "方向.类型"，如 "server.splice"
func Schema() map[string]*jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	docs := map[string]any{
		"client." + string(TypeSync):   SyncRequest{},
		"client." + string(TypeIntent): intentDoc{},
		"server." + string(TypeSync):   syncStateDoc{},
		"server." + string(TypeIntent): intentDoc{},
		"server." + string(TypeSplice): spliceDoc{},
		"server." + string(TypeReduce): Reduce{},
	}
	out := make(map[string]*jsonschema.Schema, len(docs))
	for name, v := range docs {
		s := r.Reflect(v)
		s.Title = name
		out[name] = s
	}
	return out
}
