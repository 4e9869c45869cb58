package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount       int64 // 统计的 Tick 次数
	TotalTickNs     int64 // Tick 累计耗时（纳秒）
	InputsApplied   int64 // 被接受的输入数
	InputsMalformed int64 // 无法解析而被忽略的输入数
	InputsUnknown   int64 // 未知按键
	SendDropped     int64 // 因发送队列满被丢弃的消息数
	Joins           int64
	Leaves          int64
}

func (m *RoomMetrics) IncApplied()   { atomic.AddInt64(&m.InputsApplied, 1) }
func (m *RoomMetrics) IncMalformed() { atomic.AddInt64(&m.InputsMalformed, 1) }
func (m *RoomMetrics) IncUnknown()   { atomic.AddInt64(&m.InputsUnknown, 1) }
func (m *RoomMetrics) IncDropped()   { atomic.AddInt64(&m.SendDropped, 1) }
func (m *RoomMetrics) IncJoin()      { atomic.AddInt64(&m.Joins, 1) }
func (m *RoomMetrics) IncLeave()     { atomic.AddInt64(&m.Leaves, 1) }
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":       tick,
		"avg_tick_ms":      avgMs,
		"inputs_applied":   atomic.LoadInt64(&m.InputsApplied),
		"inputs_malformed": atomic.LoadInt64(&m.InputsMalformed),
		"inputs_unknown":   atomic.LoadInt64(&m.InputsUnknown),
		"send_dropped":     atomic.LoadInt64(&m.SendDropped),
		"joins":            atomic.LoadInt64(&m.Joins),
		"leaves":           atomic.LoadInt64(&m.Leaves),
	}
}
