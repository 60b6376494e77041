package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const wsReadLimit = 4 * 1024 * 1024

// Websocket tunnels the framed session protocol over a websocket connection,
// for venues that expose the gateway behind a websocket endpoint.
type Websocket struct {
	url string

	mu   sync.RWMutex
	ws   *websocket.Conn
	conn net.Conn
}

// NewWebsocket creates a websocket transport for the given URL.
func NewWebsocket(url string) *Websocket {
	return &Websocket{url: url}
}

// Dial establishes the websocket connection and adapts it to a byte stream.
func (t *Websocket) Dial(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	ws.SetReadLimit(wsReadLimit)
	// NetConn must outlive the dial context; bind it to the connection itself.
	conn := websocket.NetConn(context.Background(), ws, websocket.MessageBinary)
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.ws = ws
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *Websocket) current() net.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// Read blocks on the current connection.
func (t *Websocket) Read(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, net.ErrClosed
	}
	return conn.Read(p)
}

// Write sends bytes, applying the context deadline to the stream write.
func (t *Websocket) Write(ctx context.Context, p []byte) error {
	conn := t.current()
	if conn == nil {
		return net.ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(p); err != nil {
		return fmt.Errorf("write %s: %w", t.url, err)
	}
	return nil
}

// Close tears down the current connection.
func (t *Websocket) Close() error {
	t.mu.Lock()
	ws := t.ws
	conn := t.conn
	t.ws = nil
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if ws != nil {
		return ws.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return nil
}

// Connected reports whether a connection is established.
func (t *Websocket) Connected() bool {
	return t.current() != nil
}
