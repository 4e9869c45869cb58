package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// 文本协议：每条消息一行，以 '\n' 结尾，字段以 ':' 分隔
const (
	MsgCreate    = "CREATE"
	MsgJoin      = "JOIN"
	MsgInput     = "INPUT"
	MsgRoom      = "ROOM"
	MsgSuccess   = "SUCCESS"
	MsgError     = "ERROR"
	MsgLeave     = "LEAVE"
	MsgFullState = "FULLSTATE"
)

// 错误回复文本
const (
	TextRoomNotFound   = "Room not found"
	TextRoomFull       = "Room is full"
	TextUnknownCommand = "Unknown command"
)

// ErrMalformed 无法解析的协议消息
var ErrMalformed = errors.New("malformed message")

// CommandKind 连接建立后的首条指令类型
type CommandKind int

const (
	CmdCreate CommandKind = iota + 1
	CmdJoin
)

// Command 首条指令
type Command struct {
	Kind CommandKind
	Code string // 仅 CmdJoin
}

// ParseCommand 解析首条指令：CREATE 或 JOIN:<code>
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == MsgCreate {
		return Command{Kind: CmdCreate}, nil
	}
	if code, ok := strings.CutPrefix(line, MsgJoin+":"); ok {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return Command{}, fmt.Errorf("%w: empty room code", ErrMalformed)
		}
		return Command{Kind: CmdJoin, Code: code}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrMalformed, line)
}

// InputMessage INPUT:<key>:<value>
type InputMessage struct {
	Key     string
	Pressed bool
}

// ParseInput 解析输入消息；key 合法性由 InputState 判断
func ParseInput(line string) (InputMessage, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), MsgInput+":")
	if !ok {
		return InputMessage{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	key, val, ok := strings.Cut(rest, ":")
	if !ok || key == "" || strings.Contains(val, ":") {
		return InputMessage{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return InputMessage{}, fmt.Errorf("%w: value %q", ErrMalformed, val)
	}
	return InputMessage{Key: key, Pressed: n > 0}, nil
}

// PlayerState 广播给客户端的玩家状态
type PlayerState struct {
	ID      string
	X, Y, Z float64
	Heading float64
	Speed   float64
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 32)
}

// formatHeading 按 float32 精度输出朝向；舍入到 360 时回绕为 0，保证线上取值在 [0,360)
func formatHeading(h float64) string {
	h = float64(float32(NormalizeHeading(h)))
	if h >= 360 {
		h = 0
	}
	return formatFloat(h)
}

func EncodeRoom(code string) string    { return MsgRoom + ":" + code }
func EncodeError(text string) string   { return MsgError + ":" + text }
func EncodeLeave(id string) string     { return MsgLeave + ":" + id }
func EncodeSuccess(code string) string { return MsgSuccess + ":Joined room " + code }

// EncodeJoin JOIN:<id>:<x>:<y>:<z>:<heading>
func EncodeJoin(p PlayerState) string {
	return strings.Join([]string{
		MsgJoin, p.ID,
		formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z),
		formatHeading(p.Heading),
	}, ":")
}

// EncodeFullState FULLSTATE:<id>:<x>:<y>:<z>:<heading>:<speed>|...
func EncodeFullState(players []PlayerState) string {
	var b strings.Builder
	b.WriteString(MsgFullState)
	b.WriteByte(':')
	for i, p := range players {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(p.ID)
		for _, f := range [...]float64{p.X, p.Y, p.Z} {
			b.WriteByte(':')
			b.WriteString(formatFloat(f))
		}
		b.WriteByte(':')
		b.WriteString(formatHeading(p.Heading))
		b.WriteByte(':')
		b.WriteString(formatFloat(p.Speed))
	}
	return b.String()
}

// ParseFullState 解析 FULLSTATE 广播（客户端与测试使用）
func ParseFullState(line string) ([]PlayerState, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), MsgFullState+":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	if rest == "" {
		return nil, nil
	}
	entries := strings.Split(rest, "|")
	out := make([]PlayerState, 0, len(entries))
	for _, e := range entries {
		f := strings.Split(e, ":")
		if len(f) != 6 {
			return nil, fmt.Errorf("%w: entry %q", ErrMalformed, e)
		}
		var nums [5]float64
		for i := range nums {
			v, err := strconv.ParseFloat(f[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: entry %q", ErrMalformed, e)
			}
			nums[i] = v
		}
		out = append(out, PlayerState{ID: f[0], X: nums[0], Y: nums[1], Z: nums[2], Heading: nums[3], Speed: nums[4]})
	}
	return out, nil
}
