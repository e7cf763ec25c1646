package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"timewarp/reconcile"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// HandleAdminConfig 提供房间配置的读取与更新（热更新协议与模拟网络参数）
// GET /admin/config?room=room-1  返回当前配置
// POST /admin/config?room=room-1 以 JSON 载荷更新部分字段
func (m *RoomManager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	room := m.GetOrCreateRoom(r.URL.Query().Get("room"))

	type patchBody struct {
		CompactIntervalMs  *int     `json:"compactIntervalMs,omitempty"`
		MaxLead            *uint64  `json:"maxLead,omitempty"`
		ReduceLag          *uint64  `json:"reduceLag,omitempty"`
		MaxHistory         *int     `json:"maxHistory,omitempty"`
		RateLimit          *float64 `json:"rateLimit,omitempty"`
		RateBurst          *int     `json:"rateBurst,omitempty"`
		SimulateDelayMinMs *int     `json:"simulateDelayMinMs,omitempty"`
		SimulateDelayMaxMs *int     `json:"simulateDelayMaxMs,omitempty"`
		SimulateDropProb   *float64 `json:"simulateDropProb,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, room.Config())
	case http.MethodPost:
		var body patchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		cfg := room.Config()
		if body.CompactIntervalMs != nil {
			cfg.CompactIntervalMs = *body.CompactIntervalMs
		}
		if body.MaxLead != nil {
			cfg.MaxLead = *body.MaxLead
		}
		if body.ReduceLag != nil {
			cfg.ReduceLag = *body.ReduceLag
		}
		if body.MaxHistory != nil {
			cfg.MaxHistory = *body.MaxHistory
		}
		if body.RateLimit != nil {
			cfg.RateLimit = *body.RateLimit
		}
		if body.RateBurst != nil {
			cfg.RateBurst = *body.RateBurst
		}
		if body.SimulateDelayMinMs != nil {
			cfg.SimulateDelayMinMs = *body.SimulateDelayMinMs
		}
		if body.SimulateDelayMaxMs != nil {
			cfg.SimulateDelayMaxMs = *body.SimulateDelayMaxMs
		}
		if body.SimulateDropProb != nil {
			cfg.SimulateDropProb = *body.SimulateDropProb
		}
		if err := room.Reconfigure(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
		Log.Infow("config updated", "room", room.ID, "config", cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=room-1
func (m *RoomManager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	room, ok := m.Room(r.URL.Query().Get("room"))
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	view := room.Server().View()
	writeJSON(w, map[string]any{
		"room":              room.ID,
		"tick":              room.TickSeq(),
		"clients":           len(room.Clients()),
		"initialStep":       view.InitialStep,
		"currentStep":       view.CurrentStep,
		"pendingAnimations": room.Server().PendingAnimations(),
		"metrics":           room.Metrics().Snapshot(),
	})
}

// HandleTimeline 输出房间的历史与世界
// GET /admin/timeline?room=room-1[&at=12]  指定 at 时附带该步的快照
func (m *RoomManager) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	room, ok := m.Room(r.URL.Query().Get("room"))
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	srv := room.Server()
	view := srv.View()
	payload := map[string]any{
		"room":        room.ID,
		"initialStep": view.InitialStep,
		"currentStep": view.CurrentStep,
		"steps":       view.Steps,
		"players":     srv.World().Players(),
	}
	if at := r.URL.Query().Get("at"); at != "" {
		id, err := strconv.ParseUint(at, 10, 64)
		if err != nil {
			http.Error(w, "invalid at", http.StatusBadRequest)
			return
		}
		payload["at"] = id
		payload["snapshot"] = srv.At(id)
	}
	writeJSON(w, payload)
}

// HandleSchema 输出线上消息的 JSON Schema
func HandleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, reconcile.Schema())
}
