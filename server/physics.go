package server

import "math"

// Vec3 世界坐标；服务端只模拟 X/Z 平面，Y 保持不变
type Vec3 struct {
	X, Y, Z float64
}

// Kinematics 单个卡丁车的运动状态
type Kinematics struct {
	Pos     Vec3
	Heading float64 // 度，[0,360)
	Speed   float64 // 前进为正，倒车为负
}

// Step 按 dt 秒推进一帧
//
// 朝向约定：heading=0 指向 +Z，heading=90 指向 +X，
// 即 X += sin(h)*v*dt，Z += cos(h)*v*dt；左转增大 heading，右转减小。
func (k *Kinematics) Step(in Controls, t Tuning, dt float64) {
	if dt <= 0 {
		return
	}

	switch {
	case in.Forward:
		k.Speed = math.Min(k.Speed+t.Acceleration*dt, t.MaxForward)
	case in.Backward:
		k.Speed = math.Max(k.Speed-t.Acceleration*dt, -t.MaxReverse)
	case k.Speed > 0:
		k.Speed = math.Max(k.Speed-t.Deceleration*dt, 0)
	case k.Speed < 0:
		k.Speed = math.Min(k.Speed+t.Deceleration*dt, 0)
	}

	if in.Brake {
		k.Speed *= t.BrakeFactor
	}

	// 静止时不能原地转向
	if k.Speed != 0 {
		if in.Left {
			k.Heading += t.TurnRate * dt
		}
		if in.Right {
			k.Heading -= t.TurnRate * dt
		}
	}
	k.Heading = NormalizeHeading(k.Heading)

	rad := k.Heading * math.Pi / 180
	k.Pos.X += math.Sin(rad) * k.Speed * dt
	k.Pos.Z += math.Cos(rad) * k.Speed * dt
}

// NormalizeHeading 将角度归一化到 [0,360)
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}
