package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn 将 WebSocket 适配为按行读写：一个文本帧即一条消息
type wsConn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn 包装一个已升级的 WebSocket 连接
// 超过 maxLineSize 的帧会使 ReadMessage 失败并关闭连接（gorilla 的读限制无法跳过单帧）
func NewWSConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) Conn {
	ws.SetReadLimit(maxLineSize)
	return &wsConn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		if c.readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(payload), "\r\n"), nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.ws.Close() })
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入，之后与 TCP 走相同的握手与读循环
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade error: %v", err)
		return
	}
	conn := NewWSConn(ws, s.cfg.ReadTimeout, s.cfg.WriteTimeout)
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	go s.handleConn(conn)
}
