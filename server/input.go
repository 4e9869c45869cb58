package server

import "sync"

// 客户端按键名
const (
	KeyForward  = "W"
	KeyBackward = "S"
	KeyLeft     = "A"
	KeyRight    = "D"
	KeyBrake    = "Space"
)

// Controls 某一时刻的按键快照，Tick 中只读使用
type Controls struct {
	Forward  bool
	Backward bool
	Left     bool
	Right    bool
	Brake    bool
}

// InputState 玩家当前按住的键
// 读循环写入、Tick 读取，互斥保护避免读到撕裂的状态
type InputState struct {
	mu sync.Mutex
	c  Controls
}

// Set 更新一个按键；未知按键返回 false 且不做任何修改
func (s *InputState) Set(key string, pressed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case KeyForward:
		s.c.Forward = pressed
	case KeyBackward:
		s.c.Backward = pressed
	case KeyLeft:
		s.c.Left = pressed
	case KeyRight:
		s.c.Right = pressed
	case KeyBrake:
		s.c.Brake = pressed
	default:
		return false
	}
	return true
}

func (s *InputState) Snapshot() Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}
