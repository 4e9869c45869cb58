package server

import "time"

// Start 启动房间的 Tick 循环；重复调用无效
func (r *Room) Start() {
	if r.started.Swap(true) {
		return
	}
	go r.run()
}

// run 按固定频率推进世界；dt 取两次 Tick 之间的实际间隔
func (r *Room) run() {
	defer close(r.stopped)

	ticker := time.NewTicker(time.Second / time.Duration(r.tickRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-r.quit:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			start := time.Now()
			r.Tick(dt)
			r.metrics.AddTick(time.Since(start).Nanoseconds())
		}
	}
}
