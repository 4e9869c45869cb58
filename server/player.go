package server

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session 房间内的玩家（服务端权威状态）
type Session struct {
	ID    string
	Input InputState

	// 仅在持有房间锁时访问
	kin Kinematics

	conn Conn
	room *Room
	log  *zap.SugaredLogger

	send      chan string
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn Conn, queue int, log *zap.SugaredLogger) *Session {
	s := &Session{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan string, queue),
		done: make(chan struct{}),
	}
	s.log = log.With("session", s.ID)
	go s.writePump()
	return s
}

// Room 会话所属房间
func (s *Session) Room() *Room { return s.room }

// Conn 底层连接
func (s *Session) Conn() Conn { return s.conn }

// Enqueue 将消息压入发送队列（非阻塞，满则丢弃）
func (s *Session) Enqueue(line string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- line:
		return true
	default:
		// 为了实时性丢弃，避免慢客户端阻塞 Tick
		return false
	}
}

// Close 关闭连接并结束写协程；可重复调用
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出
func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case line := <-s.send:
			if err := s.conn.WriteLine(line); err != nil {
				select {
				case <-s.done:
					return
				default:
				}
				s.log.Infof("write failed, closing: %v", err)
				// 读循环随之失败，由其负责从房间移除
				s.Close()
				return
			}
		}
	}
}

func (s *Session) state() PlayerState {
	return PlayerState{
		ID:      s.ID,
		X:       s.kin.Pos.X,
		Y:       s.kin.Pos.Y,
		Z:       s.kin.Pos.Z,
		Heading: s.kin.Heading,
		Speed:   s.kin.Speed,
	}
}
