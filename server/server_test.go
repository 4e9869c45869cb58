package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtaci/kcp-go/v5"
	"go.uber.org/zap/zaptest"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s := NewServer(cfg, zaptest.NewLogger(t).Sugar())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return s
}

type client struct {
	t  *testing.T
	nc net.Conn
	r  *bufio.Reader
}

func dial(t *testing.T, network, addr string) *client {
	t.Helper()
	var nc net.Conn
	var err error
	if network == "kcp" {
		nc, err = kcp.Dial(addr)
	} else {
		nc, err = net.Dial(network, addr)
	}
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = nc.Close() })
	return &client{t: t, nc: nc, r: bufio.NewReader(nc)}
}

func (c *client) send(line string) {
	c.t.Helper()
	if _, err := io.WriteString(c.nc, line+"\n"); err != nil {
		c.t.Fatalf("send %q: %v", line, err)
	}
}

func (c *client) read() (string, error) {
	_ = c.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	return strings.TrimRight(line, "\n"), err
}

func (c *client) expect(want string) {
	c.t.Helper()
	line, err := c.read()
	if err != nil {
		c.t.Fatalf("read: %v (want %q)", err, want)
	}
	if line != want {
		c.t.Fatalf("got %q, want %q", line, want)
	}
}

// until 读取直到出现满足 pred 的行
func (c *client) until(pred func(string) bool) string {
	c.t.Helper()
	for {
		line, err := c.read()
		if err != nil {
			c.t.Fatalf("read: %v", err)
		}
		if pred(line) {
			return line
		}
	}
}

func (c *client) expectEOF() {
	c.t.Helper()
	line, err := c.read()
	if !errors.Is(err, io.EOF) {
		c.t.Fatalf("got %q, %v; want EOF", line, err)
	}
}

func hasPrefix(p string) func(string) bool {
	return func(l string) bool { return strings.HasPrefix(l, p) }
}

func (c *client) create() string {
	c.t.Helper()
	c.send("CREATE")
	line, err := c.read()
	if err != nil || !strings.HasPrefix(line, "ROOM:") {
		c.t.Fatalf("CREATE reply %q, %v", line, err)
	}
	code := strings.TrimPrefix(line, "ROOM:")
	c.expect("SUCCESS:Joined room " + code)
	return code
}

func (c *client) join(code string) {
	c.t.Helper()
	c.send("JOIN:" + code)
	c.expect("SUCCESS:Joined room " + code)
}

func joinedID(line string) string {
	return strings.Split(line, ":")[1]
}

func stateIDs(t *testing.T, line string) map[string]PlayerState {
	t.Helper()
	states, err := ParseFullState(line)
	if err != nil {
		t.Fatalf("ParseFullState(%q): %v", line, err)
	}
	out := make(map[string]PlayerState, len(states))
	for _, s := range states {
		out[s.ID] = s
	}
	return out
}

func TestCreateJoinScenario(t *testing.T) {
	s := startServer(t, testConfig())
	addr := s.Addr().String()

	a := dial(t, "tcp", addr)
	code := a.create()

	b := dial(t, "tcp", addr)
	b.join(code)

	bID := joinedID(a.until(hasPrefix("JOIN:")))
	if bID == "" {
		t.Fatalf("empty id in JOIN")
	}

	for _, c := range []*client{a, b} {
		c.until(func(l string) bool {
			if !strings.HasPrefix(l, "FULLSTATE:") {
				return false
			}
			ids := stateIDs(t, l)
			_, ok := ids[bID]
			return len(ids) == 2 && ok
		})
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	s := startServer(t, testConfig())
	c := dial(t, "tcp", s.Addr().String())
	c.send("JOIN:ZZZZZZ")
	c.expect("ERROR:Room not found")
	c.expectEOF()
}

func TestJoinFullRoom(t *testing.T) {
	cfg := testConfig()
	cfg.RoomCapacity = 1
	s := startServer(t, cfg)

	a := dial(t, "tcp", s.Addr().String())
	code := a.create()

	b := dial(t, "tcp", s.Addr().String())
	b.send("JOIN:" + code)
	b.expect("ERROR:Room is full")
	b.expectEOF()
}

func TestBadInitialCommand(t *testing.T) {
	s := startServer(t, testConfig())
	c := dial(t, "tcp", s.Addr().String())
	c.send("HELLO")
	c.expect("ERROR:Unknown command")
	c.expectEOF()
}

func TestLeaveBroadcastEndToEnd(t *testing.T) {
	s := startServer(t, testConfig())
	addr := s.Addr().String()

	a := dial(t, "tcp", addr)
	code := a.create()
	b := dial(t, "tcp", addr)
	b.join(code)
	bID := joinedID(a.until(hasPrefix("JOIN:")))
	c := dial(t, "tcp", addr)
	c.join(code)
	a.until(hasPrefix("JOIN:"))

	_ = b.nc.Close()

	for _, cl := range []*client{a, c} {
		leaves := 0
		after := 0
		for after < 5 {
			line, err := cl.read()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			switch {
			case line == EncodeLeave(bID):
				leaves++
			case strings.HasPrefix(line, "LEAVE:"):
				t.Fatalf("unexpected %q", line)
			case strings.HasPrefix(line, "FULLSTATE:") && leaves > 0:
				if _, ok := stateIDs(t, line)[bID]; ok {
					t.Fatalf("FULLSTATE after LEAVE still lists %s", bID)
				}
				after++
			}
		}
		if leaves != 1 {
			t.Fatalf("got %d LEAVE messages, want 1", leaves)
		}
	}
}

func TestInputDrivesSimulation(t *testing.T) {
	s := startServer(t, testConfig())
	a := dial(t, "tcp", s.Addr().String())
	code := a.create()

	a.send("INPUT:W:x")
	a.send("garbage")
	a.send("INPUT:Q:1")
	a.send("INPUT:W:1")

	a.until(func(l string) bool {
		if !strings.HasPrefix(l, "FULLSTATE:") {
			return false
		}
		for _, st := range stateIDs(t, l) {
			return st.Speed > 0
		}
		return false
	})

	r, ok := s.Rooms().Room(code)
	if !ok {
		t.Fatalf("room %s missing", code)
	}
	snap := r.Metrics().Snapshot()
	if snap["inputs_malformed"].(int64) != 2 || snap["inputs_unknown"].(int64) != 1 || snap["inputs_applied"].(int64) < 1 {
		t.Fatalf("metrics = %v", snap)
	}
}

func TestOversizedInputKeepsSession(t *testing.T) {
	s := startServer(t, testConfig())
	addr := s.Addr().String()

	a := dial(t, "tcp", addr)
	code := a.create()
	b := dial(t, "tcp", addr)
	b.join(code)
	bID := joinedID(a.until(hasPrefix("JOIN:")))

	b.send("INPUT:" + strings.Repeat("W", 2*maxLineSize) + ":1")
	b.send("INPUT:W:1")

	a.until(func(l string) bool {
		if strings.HasPrefix(l, "LEAVE:") {
			t.Fatalf("unexpected %q", l)
		}
		if !strings.HasPrefix(l, "FULLSTATE:") {
			return false
		}
		st, ok := stateIDs(t, l)[bID]
		return ok && st.Speed > 0
	})

	r, _ := s.Rooms().Room(code)
	if n := r.Metrics().Snapshot()["inputs_malformed"].(int64); n != 1 {
		t.Fatalf("inputs_malformed = %d, want 1", n)
	}
}

func TestDisconnectRemovesSessionAndRoomIsSwept(t *testing.T) {
	s := startServer(t, testConfig())
	a := dial(t, "tcp", s.Addr().String())
	code := a.create()
	_ = a.nc.Close()

	r, _ := s.Rooms().Room(code)
	waitFor(t, "session removal", func() bool { return r.NumPlayers() == 0 })
	s.Rooms().Sweep(time.Now())
	if _, ok := s.Rooms().Room(code); ok {
		t.Fatalf("empty room not swept")
	}
}

func TestWebSocketTransport(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	s := startServer(t, cfg)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.HTTPAddr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer ws.Close()

	read := func() string {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("ws read: %v", err)
		}
		return string(msg)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("CREATE")); err != nil {
		t.Fatalf("ws write: %v", err)
	}
	room := read()
	if !strings.HasPrefix(room, "ROOM:") {
		t.Fatalf("got %q, want ROOM:", room)
	}
	code := strings.TrimPrefix(room, "ROOM:")
	if got := read(); got != "SUCCESS:Joined room "+code {
		t.Fatalf("got %q", got)
	}

	tcp := dial(t, "tcp", s.Addr().String())
	tcp.join(code)
	for {
		if strings.HasPrefix(read(), "JOIN:") {
			break
		}
	}
}

func TestKCPTransport(t *testing.T) {
	cfg := testConfig()
	cfg.KCPAddr = "127.0.0.1:0"
	s := startServer(t, cfg)

	c := dial(t, "kcp", s.KCPAddr().String())
	code := c.create()
	c.until(func(l string) bool {
		return strings.HasPrefix(l, "FULLSTATE:") && len(stateIDs(t, l)) == 1
	})
	if r, ok := s.Rooms().Room(code); !ok || r.NumPlayers() != 1 {
		t.Fatalf("kcp player not admitted to %s", code)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	s := NewServer(testConfig(), zaptest.NewLogger(t).Sugar())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr().String()

	joined := dial(t, "tcp", addr)
	joined.create()
	idle := dial(t, "tcp", addr)
	waitFor(t, "idle connection tracked", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) == 2
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	for _, c := range []*client{joined, idle} {
		for {
			_, err := c.read()
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "reset") {
					t.Fatalf("read after shutdown: %v", err)
				}
				break
			}
		}
	}
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatalf("listener still accepting")
	}
}
