package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Handler 管理与监控接口，以及 WebSocket 接入
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/rooms", s.HandleRooms)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/admin/tuning", s.HandleAdminTuning)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// lookupRoom 取 ?room= 参数对应的房间，不存在时写 404
func (s *Server) lookupRoom(w http.ResponseWriter, r *http.Request) (*Room, bool) {
	code := strings.ToUpper(r.URL.Query().Get("room"))
	room, ok := s.rooms.Room(code)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
	}
	return room, ok
}

// HandleRooms 列出所有房间
// GET /rooms
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.rooms.ListRooms())
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=ABC123
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	room, ok := s.lookupRoom(w, r)
	if !ok {
		return
	}
	info := room.Info()
	writeJSON(w, map[string]any{
		"room":    info.Code,
		"players": info.Players,
		"tick":    info.Tick,
		"metrics": room.Metrics().Snapshot(),
	})
}

// HandleAdminTuning 读取与热更新房间的物理参数
// GET /admin/tuning?room=ABC123  返回当前参数
// POST /admin/tuning?room=ABC123 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminTuning(w http.ResponseWriter, r *http.Request) {
	room, ok := s.lookupRoom(w, r)
	if !ok {
		return
	}

	type patch struct {
		MaxForward   *float64 `json:"maxForward,omitempty"`
		MaxReverse   *float64 `json:"maxReverse,omitempty"`
		Acceleration *float64 `json:"acceleration,omitempty"`
		Deceleration *float64 `json:"deceleration,omitempty"`
		TurnRate     *float64 `json:"turnRate,omitempty"`
		BrakeFactor  *float64 `json:"brakeFactor,omitempty"`
		SpawnRadius  *float64 `json:"spawnRadius,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, room.Tuning())
	case http.MethodPost:
		var body patch
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		t := room.Tuning()
		for _, f := range []struct {
			src *float64
			dst *float64
		}{
			{body.MaxForward, &t.MaxForward},
			{body.MaxReverse, &t.MaxReverse},
			{body.Acceleration, &t.Acceleration},
			{body.Deceleration, &t.Deceleration},
			{body.TurnRate, &t.TurnRate},
			{body.BrakeFactor, &t.BrakeFactor},
			{body.SpawnRadius, &t.SpawnRadius},
		} {
			if f.src != nil {
				*f.dst = *f.src
			}
		}
		if err := validate.Struct(t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		room.SetTuning(t)
		s.log.Infof("tuning updated: room=%s %+v", room.Code, t)
		writeJSON(w, t)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
