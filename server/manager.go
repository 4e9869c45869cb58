package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrServerClosed 服务已关闭，不再创建或加入房间
var ErrServerClosed = errors.New("server closed")

// ErrNoRoomCode 连续 maxCodeAttempts 次生成的房间码均已被占用
var ErrNoRoomCode = errors.New("no free room code")

// maxCodeAttempts 单次 CreateRoom 生成房间码的次数上限
const maxCodeAttempts = 64

// codeChars 房间码字符集，去掉了 I/O/0/1 等易混淆字符
const codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomManager 管理多个房间的生命周期
// 锁顺序：先 RoomManager.mu 再 Room.mu，禁止反向获取
type RoomManager struct {
	cfg Config
	log *zap.SugaredLogger

	mu       sync.RWMutex
	rooms    map[string]*Room
	index    map[string]string // session id -> room code
	closed   bool
	codeRand io.Reader // 房间码随机源
}

func NewRoomManager(cfg Config, log *zap.SugaredLogger) *RoomManager {
	return &RoomManager{
		cfg:   cfg,
		log:   log,
		rooms: make(map[string]*Room),
		index:    make(map[string]string),
		codeRand: rand.Reader,
	}
}

// CreateRoom 生成未被占用的房间码，创建房间并开始 Tick
func (m *RoomManager) CreateRoom() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrServerClosed
	}
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateCode(m.codeRand, m.cfg.CodeLength)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		if _, exists := m.rooms[code]; exists {
			continue
		}
		r := NewRoom(code, m.cfg, m.log)
		m.rooms[code] = r
		r.Start()
		m.log.Infof("created room %s", code)
		return code, nil
	}
	m.log.Warnf("no free room code after %d attempts (%d rooms)", maxCodeAttempts, len(m.rooms))
	return "", ErrNoRoomCode
}

// JoinRoom 查找房间并交由房间做容量检查与接纳
// 整个过程持有管理器锁，因此不会与 Sweep 交错
func (m *RoomManager) JoinRoom(code string, conn Conn) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrServerClosed
	}
	r, ok := m.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	s, err := r.Admit(conn)
	if err != nil {
		return nil, err
	}
	m.index[s.ID] = code
	return s, nil
}

// RemovePlayer 通过反向索引找到玩家所在房间并移除
func (m *RoomManager) RemovePlayer(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.index[sessionID]
	if !ok {
		return false
	}
	delete(m.index, sessionID)
	r, ok := m.rooms[code]
	if !ok {
		return false
	}
	return r.Remove(sessionID)
}

// Room 按房间码查找
func (m *RoomManager) Room(code string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	return r, ok
}

// Sweep 移除空闲超过 EmptyRoomGrace 的空房间，返回被移除的房间码
func (m *RoomManager) Sweep(now time.Time) []string {
	m.mu.Lock()
	var removed []*Room
	for code, r := range m.rooms {
		if r.idle(now, m.cfg.EmptyRoomGrace) {
			delete(m.rooms, code)
			removed = append(removed, r)
		}
	}
	m.mu.Unlock()

	codes := make([]string, 0, len(removed))
	for _, r := range removed {
		r.Close()
		codes = append(codes, r.Code)
		m.log.Infof("removed empty room %s", r.Code)
	}
	return codes
}

// RunSweeper 按 SweepInterval 周期清理空房间，直到 ctx 取消
func (m *RoomManager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// ListRooms 返回所有房间概要，按房间码排序
func (m *RoomManager) ListRooms() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Close 关闭全部房间；之后的创建与加入都返回 ErrServerClosed
func (m *RoomManager) Close() {
	m.mu.Lock()
	m.closed = true
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.index = make(map[string]string)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}

func generateCode(r io.Reader, n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(codeChars)))
	for i := range b {
		idx, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		b[i] = codeChars[idx.Int64()]
	}
	return string(b), nil
}
