package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"
	"go.uber.org/zap"
)

// Server 监听连接，将客户端路由到房间
type Server struct {
	cfg   Config
	log   *zap.SugaredLogger
	rooms *RoomManager

	mu        sync.Mutex
	closed    bool
	tcp       net.Listener
	kcp       net.Listener
	httpLn    net.Listener
	httpSrv   *http.Server
	conns     map[Conn]struct{}
	cancelBkg context.CancelFunc

	wg sync.WaitGroup
}

func NewServer(cfg Config, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:   cfg,
		log:   log,
		rooms: NewRoomManager(cfg, log),
		conns: make(map[Conn]struct{}),
	}
}

// Rooms 房间管理器
func (s *Server) Rooms() *RoomManager { return s.rooms }

// Start 绑定 TCP（及可选的 KCP、HTTP）端口并开始接受连接，不阻塞
func (s *Server) Start() error {
	tcpLn, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.cfg.Addr(), err)
	}

	var kcpLn net.Listener
	if s.cfg.KCPAddr != "" {
		if kcpLn, err = kcp.Listen(s.cfg.KCPAddr); err != nil {
			_ = tcpLn.Close()
			return fmt.Errorf("listen kcp %s: %w", s.cfg.KCPAddr, err)
		}
	}

	var httpLn net.Listener
	if s.cfg.HTTPAddr != "" {
		if httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr); err != nil {
			_ = tcpLn.Close()
			if kcpLn != nil {
				_ = kcpLn.Close()
			}
			return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddr, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.tcp, s.kcp, s.httpLn, s.cancelBkg = tcpLn, kcpLn, httpLn, cancel
	s.wg.Add(2)
	go s.acceptLoop(tcpLn, "tcp")
	go func() {
		defer s.wg.Done()
		s.rooms.RunSweeper(ctx)
	}()
	if kcpLn != nil {
		s.wg.Add(1)
		go s.acceptLoop(kcpLn, "kcp")
	}
	if httpLn != nil {
		s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
		srv := s.httpSrv
		go func() {
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Errorf("http serve: %v", err)
			}
		}()
	}
	s.mu.Unlock()

	s.log.Infof("listening on tcp %s", tcpLn.Addr())
	if kcpLn != nil {
		s.log.Infof("listening on kcp %s", kcpLn.Addr())
	}
	if httpLn != nil {
		s.log.Infof("admin/ws http on %s", httpLn.Addr())
	}
	return nil
}

// Addr TCP 监听地址（端口 0 时取实际端口）
func (s *Server) Addr() net.Addr { return addrOf(&s.mu, &s.tcp) }

// KCPAddr KCP 监听地址；未启用时为 nil
func (s *Server) KCPAddr() net.Addr { return addrOf(&s.mu, &s.kcp) }

// HTTPAddr 管理接口监听地址；未启用时为 nil
func (s *Server) HTTPAddr() net.Addr { return addrOf(&s.mu, &s.httpLn) }

func addrOf(mu *sync.Mutex, ln *net.Listener) net.Addr {
	mu.Lock()
	defer mu.Unlock()
	if *ln == nil {
		return nil
	}
	return (*ln).Addr()
}

func (s *Server) acceptLoop(ln net.Listener, transport string) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnf("%s accept error: %v", transport, err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		conn := NewStreamConn(nc, s.cfg.ReadTimeout, s.cfg.WriteTimeout)
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.log.Debugf("%s connection from %s", transport, conn.RemoteAddr())
		go s.handleConn(conn)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track 登记连接并计入 wg；服务关闭后返回 false
func (s *Server) track(c Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// handleConn 读取首条指令（CREATE / JOIN:<code>），成功加入后进入读循环
func (s *Server) handleConn(c Conn) {
	defer s.untrack(c)

	line, err := c.ReadLine()
	if errors.Is(err, ErrMalformed) {
		s.log.Infof("%s sent bad initial command: %v", c.RemoteAddr(), err)
		s.reject(c, TextUnknownCommand)
		return
	}
	if err != nil {
		s.log.Debugf("%s closed before handshake: %v", c.RemoteAddr(), err)
		_ = c.Close()
		return
	}
	cmd, err := ParseCommand(line)
	if err != nil {
		s.log.Infof("%s sent bad initial command: %v", c.RemoteAddr(), err)
		s.reject(c, TextUnknownCommand)
		return
	}

	code := cmd.Code
	if cmd.Kind == CmdCreate {
		if code, err = s.rooms.CreateRoom(); err != nil {
			s.reject(c, err.Error())
			return
		}
		if err := c.WriteLine(EncodeRoom(code)); err != nil {
			s.log.Infof("%s: write room code: %v", c.RemoteAddr(), err)
			_ = c.Close()
			return
		}
	}

	sess, err := s.rooms.JoinRoom(code, c)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		s.reject(c, TextRoomNotFound)
		return
	case errors.Is(err, ErrRoomFull):
		s.reject(c, TextRoomFull)
		return
	case err != nil:
		s.reject(c, err.Error())
		return
	}

	s.readLoop(sess)
}

// reject 回复 ERROR 并关闭连接
func (s *Server) reject(c Conn, text string) {
	if err := c.WriteLine(EncodeError(text)); err != nil {
		s.log.Debugf("%s: write error reply: %v", c.RemoteAddr(), err)
	}
	_ = c.Close()
}

// readLoop 持续读取 INPUT 消息；读失败时移除会话并关闭连接（仅一次）
func (s *Server) readLoop(sess *Session) {
	defer func() {
		if !s.rooms.RemovePlayer(sess.ID) {
			sess.Close()
		}
	}()

	m := sess.Room().Metrics()
	for {
		line, err := sess.Conn().ReadLine()
		if errors.Is(err, ErrMalformed) {
			m.IncMalformed()
			sess.log.Warnf("ignoring message: %v", err)
			continue
		}
		if err != nil {
			sess.log.Infof("disconnected: %v", err)
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		in, err := ParseInput(line)
		if err != nil {
			m.IncMalformed()
			sess.log.Warnf("ignoring message: %v", err)
			continue
		}
		if !sess.Input.Set(in.Key, in.Pressed) {
			m.IncUnknown()
			sess.log.Debugf("ignoring unknown key %q", in.Key)
			continue
		}
		m.IncApplied()
	}
}

// Shutdown 停止接受连接、关闭所有房间与连接，并在 ctx 期限内等待协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := []net.Listener{s.tcp, s.kcp}
	httpSrv, cancel := s.httpSrv, s.cancelBkg
	conns := make([]Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, ln := range listeners {
		if ln != nil {
			_ = ln.Close()
		}
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			s.log.Warnf("http shutdown: %v", err)
		}
	}
	s.rooms.Close()
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Infof("server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
