package server

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

// RoomInfo 房间概要，用于管理接口
type RoomInfo struct {
	Code     string `json:"code"`
	Players  int    `json:"players"`
	Capacity int    `json:"capacity"`
	Tick     int64  `json:"tick"`
}

// Room 房间世界：权威状态维护在内存，独立 Tick 推进
// sessions、tuning、tickSeq 与各会话的运动状态都由 mu 保护
type Room struct {
	Code string

	capacity  int
	tickRate  int
	sendQueue int
	log       *zap.SugaredLogger
	metrics   RoomMetrics

	mu         sync.Mutex
	sessions   map[string]*Session
	tuning     Tuning
	tickSeq    int64
	lastActive time.Time
	closed     bool

	started  atomic.Bool
	stopOnce sync.Once
	quit     chan struct{}
	stopped  chan struct{}
}

// NewRoom 创建房间，初始化数据结构；需调用 Start 开始 Tick
func NewRoom(code string, cfg Config, log *zap.SugaredLogger) *Room {
	return &Room{
		Code:       code,
		capacity:   cfg.RoomCapacity,
		tickRate:   cfg.TickRate,
		sendQueue:  cfg.SendQueue,
		log:        log.With("room", code),
		sessions:   make(map[string]*Session),
		tuning:     cfg.Tuning,
		lastActive: time.Now(),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Metrics 房间运行指标
func (r *Room) Metrics() *RoomMetrics { return &r.metrics }

// Admit 容量检查后为连接创建会话并加入房间
// 新会话先收到 SUCCESS，其余玩家收到 JOIN 通知
func (r *Room) Admit(conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomNotFound
	}
	if len(r.sessions) >= r.capacity {
		return nil, ErrRoomFull
	}

	s := newSession(conn, r.sendQueue, r.log)
	s.room = r
	s.kin = r.spawn()
	s.Enqueue(EncodeSuccess(r.Code))

	join := EncodeJoin(s.state())
	for _, other := range r.sessions {
		r.enqueue(other, join)
	}
	r.sessions[s.ID] = s
	r.lastActive = time.Now()
	r.metrics.IncJoin()
	r.log.Infof("player %s joined from %s (%d/%d)", s.ID, conn.RemoteAddr(), len(r.sessions), r.capacity)
	return s, nil
}

// spawn 出生点：在出生区域内随机位置与朝向，速度为 0
func (r *Room) spawn() Kinematics {
	rad := r.tuning.SpawnRadius
	return Kinematics{
		Pos: Vec3{
			X: (rand.Float64()*2 - 1) * rad,
			Z: (rand.Float64()*2 - 1) * rad,
		},
		Heading: NormalizeHeading(rand.Float64() * 360),
	}
}

// Remove 将玩家移出房间、关闭连接，并通知其余玩家
func (r *Room) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.lastActive = time.Now()
		leave := EncodeLeave(id)
		for _, other := range r.sessions {
			r.enqueue(other, leave)
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	r.metrics.IncLeave()
	r.log.Infof("player %s left", id)
	return true
}

// Tick 推进一帧：先积分所有玩家，再广播同一帧的完整状态
func (r *Room) Tick(dt float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.tickSeq++
	if len(r.sessions) == 0 {
		return
	}

	states := make([]PlayerState, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.kin.Step(s.Input.Snapshot(), r.tuning, dt)
		states = append(states, s.state())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })

	line := EncodeFullState(states)
	for _, s := range r.sessions {
		r.enqueue(s, line)
	}
}

func (r *Room) enqueue(s *Session, line string) {
	if !s.Enqueue(line) {
		r.metrics.IncDropped()
		s.log.Debugf("send queue full or closed, dropped message")
	}
}

// NumPlayers 当前玩家数
func (r *Room) NumPlayers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// idle 房间为空且空闲时间超过 grace
func (r *Room) idle(now time.Time, grace time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) == 0 && now.Sub(r.lastActive) >= grace
}

// Info 房间概要
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomInfo{Code: r.Code, Players: len(r.sessions), Capacity: r.capacity, Tick: r.tickSeq}
}

func (r *Room) Tuning() Tuning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tuning
}

// SetTuning 热更新物理参数，下一帧生效
func (r *Room) SetTuning(t Tuning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tuning = t
}

// Close 停止 Tick 循环、关闭所有连接并清空房间；可重复调用
func (r *Room) Close() {
	r.stopOnce.Do(func() {
		close(r.quit)
		if r.started.Load() {
			<-r.stopped
		}

		r.mu.Lock()
		r.closed = true
		sessions := r.sessions
		r.sessions = make(map[string]*Session)
		r.mu.Unlock()

		for _, s := range sessions {
			s.Close()
		}
		r.log.Infof("room closed, %d connection(s) dropped", len(sessions))
	})
}
