package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCP is a raw TCP socket transport.
type TCP struct {
	addr string

	mu   sync.RWMutex
	conn net.Conn
}

// NewTCP creates a TCP transport for the given host and port.
func NewTCP(host string, port int) *TCP {
	return &TCP{addr: net.JoinHostPort(host, fmt.Sprintf("%d", port))}
}

// Dial connects to the gateway address, replacing any prior connection.
func (t *TCP) Dial(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *TCP) current() net.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// Read blocks on the current connection.
func (t *TCP) Read(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, net.ErrClosed
	}
	return conn.Read(p)
}

// Write sends bytes, applying the context deadline to the socket write.
func (t *TCP) Write(ctx context.Context, p []byte) error {
	conn := t.current()
	if conn == nil {
		return net.ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(p); err != nil {
		return fmt.Errorf("write %s: %w", t.addr, err)
	}
	return nil
}

// Close tears down the current connection.
func (t *TCP) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Connected reports whether a connection is established.
func (t *TCP) Connected() bool {
	return t.current() != nil
}
