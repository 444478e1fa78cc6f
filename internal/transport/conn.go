package transport

import (
	"context"
	"net"
	"time"
)

// readTimeoutConn 在每次 Read 前刷新读超时，等价于 socket 级别的 read timeout。
type readTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *readTimeoutConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func timeoutDialer(connectTimeout, readTimeout time.Duration) dialFunc {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &readTimeoutConn{Conn: conn, timeout: readTimeout}, nil
	}
}
