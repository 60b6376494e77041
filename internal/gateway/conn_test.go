package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/transport"
	"github.com/halyard-io/halyard/internal/wire"
)

func TestSessionConnHandshake(t *testing.T) {
	g := newFakeGateway(t)
	cfg := testSession(g.addr(), time.Hour)
	trans := transport.NewTCP(cfg.Host, cfg.Port)
	conn := newSessionConn(cfg, trans, observability.Log())

	reply, err := conn.connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer trans.Close()

	if reply.ServerVersion != wire.MinVersion {
		t.Fatalf("negotiated version %d", reply.ServerVersion)
	}
	if conn.State() != StateConnected {
		t.Fatalf("state after connect: %s", conn.State())
	}
	if conn.ServerVersion() != wire.MinVersion {
		t.Fatalf("server version not recorded")
	}

	// The start-session frame must have gone out.
	waitFor(t, time.Second, "start-session frame", func() bool {
		return g.count(msgStartSession, nil) == 1
	})
}

func TestConnectWithRetryExhaustsAttempts(t *testing.T) {
	g := newFakeGateway(t)
	cfg := testSession(g.addr(), time.Hour)
	cfg.MaxConnectAttempts = 2
	cfg.ReconnectDelay = 50 * time.Millisecond
	g.close()

	trans := transport.NewTCP(cfg.Host, cfg.Port)
	conn := newSessionConn(cfg, trans, observability.Log())

	_, err := conn.connectWithRetry(context.Background())
	if !errors.Is(err, errs.New("", errs.CodeFatal)) {
		t.Fatalf("expected fatal error after exhausting attempts, got %v", err)
	}
	if got := conn.Attempts(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("state after exhaustion: %s", conn.State())
	}
}

func TestConnectWithRetryHonoursContext(t *testing.T) {
	g := newFakeGateway(t)
	cfg := testSession(g.addr(), time.Hour)
	g.close()

	trans := transport.NewTCP(cfg.Host, cfg.Port)
	conn := newSessionConn(cfg, trans, observability.Log())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := conn.connectWithRetry(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
}
