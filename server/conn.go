package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// maxLineSize 单条消息的最大长度；超长行被丢弃并返回 ErrMalformed，连接保持
const maxLineSize = 4096

// Conn 与传输层无关的客户端连接：按行读写
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// streamConn 在字节流（TCP、KCP）上做换行分帧
type streamConn struct {
	nc           net.Conn
	br           *bufio.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn 包装一个 net.Conn；超时为 0 表示不设置 deadline
func NewStreamConn(nc net.Conn, readTimeout, writeTimeout time.Duration) Conn {
	return &streamConn{
		nc:           nc,
		br:           bufio.NewReaderSize(nc, maxLineSize),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (c *streamConn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	line, err := c.br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		// 丢弃超长行的剩余部分，直到下一个换行
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = c.br.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, maxLineSize)
	}
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return "", err
	}
	// 末尾没有换行的最后一行照常返回，下一次读取得到 EOF
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (c *streamConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := io.WriteString(c.nc, line+"\n")
	return err
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.nc.Close() })
	return c.closeErr
}

func (c *streamConn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}
