package server

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeConn 记录写出的行，ReadLine 阻塞直到有输入或被关闭
type fakeConn struct {
	in chan string

	mu     sync.Mutex
	lines  []string
	closed bool
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan string, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadLine() (string, error) {
	select {
	case l := <-c.in:
		return l, nil
	case <-c.done:
		return "", io.EOF
	}
}

func (c *fakeConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.lines = append(c.lines, line)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// count 以 prefix 开头的行数
func (c *fakeConn) count(prefix string) int {
	n := 0
	for _, l := range c.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.HTTPAddr = ""
	cfg.EmptyRoomGrace = 0
	cfg.SweepInterval = time.Hour
	cfg.WriteTimeout = time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
