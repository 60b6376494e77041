package gateway

import (
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halyard-io/halyard/config"
	"github.com/halyard-io/halyard/internal/wire"
)

// Outbound message type codes as they appear on the wire, mirrored here so
// the fake gateway can dispatch on the first frame field.
const (
	msgSubscribeMktData = "1"
	msgCancelMktData    = "2"
	msgPlaceOrder       = "3"
	msgCancelOrder      = "4"
	msgRequestAccount   = "6"
	msgPing             = "8"
	msgSubscribeDepth   = "10"
	msgCancelDepth      = "11"
	msgRequestHistory   = "20"
	msgCancelHistory    = "21"
	msgRequestPositions = "61"
	msgStartSession     = "71"
)

// fakeGateway is an in-process venue gateway speaking the framed session
// protocol over TCP. It answers the handshake, start-session and ping
// automatically, finishes history requests unless the symbol is silenced,
// and records every client frame for assertions.
type fakeGateway struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	conns    []*fakeConn
	log      [][]string
	silenced map[string]bool

	handshakes  atomic.Int32
	nextOrderID int64
}

type fakeConn struct {
	net.Conn
	wmu sync.Mutex
}

func (c *fakeConn) writeFrame(b []byte) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, _ = c.Write(b)
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	g := &fakeGateway{
		t:           t,
		ln:          ln,
		silenced:    make(map[string]bool),
		nextOrderID: 5000,
	}
	go g.acceptLoop()
	t.Cleanup(g.close)
	return g
}

func (g *fakeGateway) addr() string { return g.ln.Addr().String() }

// silence suppresses the automatic history-end reply for a symbol so a
// request can be left hanging.
func (g *fakeGateway) silence(symbol string) {
	g.mu.Lock()
	g.silenced[symbol] = true
	g.mu.Unlock()
}

func (g *fakeGateway) acceptLoop() {
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			return
		}
		fc := &fakeConn{Conn: conn}
		g.mu.Lock()
		g.conns = append(g.conns, fc)
		g.mu.Unlock()
		go g.serve(fc)
	}
}

func (g *fakeGateway) serve(fc *fakeConn) {
	magic := make([]byte, len(wire.Magic))
	if _, err := io.ReadFull(fc, magic); err != nil {
		return
	}

	var buf []byte
	chunk := make([]byte, 4096)
	next := func() []byte {
		for {
			frame, rest := wire.ReadFrame(buf)
			if frame != nil {
				buf = rest
				out := make([]byte, len(frame))
				copy(out, frame)
				return out
			}
			n, err := fc.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				return nil
			}
		}
	}

	if next() == nil { // version range frame
		return
	}
	g.handshakes.Add(1)
	fc.writeFrame(wire.EncodeHandshakeReply(wire.MinVersion, "20260827 09:30:00 UTC"))

	for {
		frame := next()
		if frame == nil {
			return
		}
		fields := wire.Fields(frame)
		if len(fields) == 0 {
			continue
		}
		g.record(fields)
		switch fields[0] {
		case msgStartSession:
			fc.writeFrame(wire.EncodeSessionReady(g.nextOrderID))
			fc.writeFrame(wire.EncodeManagedAccounts("DU100"))
		case msgPing:
			fc.writeFrame(wire.EncodePong())
		case msgRequestHistory:
			if len(fields) < 3 {
				continue
			}
			g.mu.Lock()
			quiet := g.silenced[fields[2]]
			g.mu.Unlock()
			if quiet {
				continue
			}
			corr, _ := strconv.ParseInt(fields[1], 10, 64)
			fc.writeFrame(wire.EncodeHistoryEnd(corr))
		}
	}
}

func (g *fakeGateway) record(fields []string) {
	g.mu.Lock()
	g.log = append(g.log, append([]string(nil), fields...))
	g.mu.Unlock()
}

// count returns the number of recorded frames of the given type accepted by
// the optional match predicate.
func (g *fakeGateway) count(msgType string, match func(fields []string) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, fields := range g.log {
		if fields[0] != msgType {
			continue
		}
		if match != nil && !match(fields) {
			continue
		}
		n++
	}
	return n
}

// findFrame returns the first recorded frame of the given type accepted by
// the optional match predicate.
func (g *fakeGateway) findFrame(msgType string, match func(fields []string) bool) ([]string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, fields := range g.log {
		if fields[0] != msgType {
			continue
		}
		if match != nil && !match(fields) {
			continue
		}
		return fields, true
	}
	return nil, false
}

// sendAll pushes a gateway frame to every live connection.
func (g *fakeGateway) sendAll(frame []byte) {
	g.mu.Lock()
	conns := append([]*fakeConn(nil), g.conns...)
	g.mu.Unlock()
	for _, fc := range conns {
		fc.writeFrame(frame)
	}
}

// dropConns severs every live connection while the listener keeps accepting,
// simulating a gateway restart.
func (g *fakeGateway) dropConns() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, fc := range conns {
		_ = fc.Close()
	}
}

func (g *fakeGateway) close() {
	_ = g.ln.Close()
	g.dropConns()
}

// testSession returns a session configuration with timeouts short enough for
// tests; the watchdog interval is overridable per test.
func testSession(addr string, watchdog time.Duration) config.Session {
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	return config.Session{
		Venue:              "ibgw",
		Host:               host,
		Port:               port,
		ClientID:           7,
		Trans:              config.TransportTCP,
		MaxConnectAttempts: 0,
		ReconnectDelay:     200 * time.Millisecond,
		HandshakeTimeout:   2 * time.Second,
		RequestTimeout:     300 * time.Millisecond,
		WatchdogInterval:   watchdog,
		DisconnectGrace:    10 * time.Millisecond,
		MaxFrameBytes:      1 << 16,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
