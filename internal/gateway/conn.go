// Package gateway implements the resilient client for the venue gateway
// session: connection lifecycle, the inbound message pipeline, correlation
// bookkeeping and the public request/subscribe surface.
package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/halyard-io/halyard/config"
	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/transport"
	"github.com/halyard-io/halyard/internal/wire"
)

// State is the connection lifecycle state.
type State int32

const (
	// StateDisconnected means no connection exists.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateHandshaking means the version negotiation is in flight.
	StateHandshaking
	// StateConnected means the session is established.
	StateConnected
	// StateDegraded means the session lost readiness but the client lives on.
	StateDegraded
	// StateReconnecting means the recovery routine owns the transport.
	StateReconnecting
	// StateDisposed means the client was closed and must not be reused.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// sessionConn drives one transport through the dial/handshake/start-session
// sequence and tracks the lifecycle state.
type sessionConn struct {
	cfg   config.Session
	trans transport.Transport
	log   observability.Logger

	state         atomic.Int32
	serverVersion atomic.Int64
	attempts      atomic.Int64
}

func newSessionConn(cfg config.Session, trans transport.Transport, log observability.Logger) *sessionConn {
	return &sessionConn{cfg: cfg, trans: trans, log: log}
}

// State returns the current lifecycle state.
func (c *sessionConn) State() State { return State(c.state.Load()) }

func (c *sessionConn) setState(s State) { c.state.Store(int32(s)) }

// ServerVersion reports the negotiated protocol version, 0 before the first
// successful handshake.
func (c *sessionConn) ServerVersion() int { return int(c.serverVersion.Load()) }

// Attempts reports the total number of connection attempts made.
func (c *sessionConn) Attempts() int64 { return c.attempts.Load() }

// connect performs one full connection sequence: dial, magic plus version
// range, handshake reply, start-session. The transport is closed on failure.
func (c *sessionConn) connect(ctx context.Context) (wire.HandshakeReply, error) {
	c.setState(StateConnecting)
	if err := c.trans.Dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return wire.HandshakeReply{}, errs.New(c.cfg.Venue, errs.CodeTransport,
			errs.WithMessage("dial gateway"), errs.WithCause(err))
	}

	c.setState(StateHandshaking)
	hello := append([]byte(wire.Magic), wire.EncodeHandshake()...)
	if err := c.trans.Write(ctx, hello); err != nil {
		return wire.HandshakeReply{}, c.failHandshake("send handshake", err)
	}

	frame, err := c.readHandshakeFrame(ctx)
	if err != nil {
		return wire.HandshakeReply{}, c.failHandshake("read handshake reply", err)
	}
	reply, err := wire.ParseHandshakeReply(frame)
	if err != nil {
		return wire.HandshakeReply{}, c.failHandshake("negotiate version", err)
	}
	c.serverVersion.Store(int64(reply.ServerVersion))

	if err := c.trans.Write(ctx, wire.EncodeStartSession(c.cfg.ClientID)); err != nil {
		return wire.HandshakeReply{}, c.failHandshake("open session", err)
	}

	c.setState(StateConnected)
	return reply, nil
}

func (c *sessionConn) failHandshake(op string, err error) error {
	_ = c.trans.Close()
	c.setState(StateDisconnected)
	return errs.New(c.cfg.Venue, errs.CodeHandshake, errs.WithMessage(op), errs.WithCause(err))
}

// connectWithRetry paces connect attempts with exponential backoff capped at
// the configured reconnect delay. MaxConnectAttempts of zero retries until the
// context ends; a positive bound exhausted yields a fatal error.
func (c *sessionConn) connectWithRetry(ctx context.Context) (wire.HandshakeReply, error) {
	pacing := backoff.NewExponentialBackOff()
	pacing.InitialInterval = c.cfg.ReconnectDelay / 4
	if pacing.InitialInterval < 100*time.Millisecond {
		pacing.InitialInterval = 100 * time.Millisecond
	}
	pacing.MaxInterval = c.cfg.ReconnectDelay
	pacing.Reset()

	for attempt := 1; ; attempt++ {
		c.attempts.Add(1)
		reply, err := c.connect(ctx)
		if err == nil {
			c.log.Info("gateway session established",
				observability.F("venue", c.cfg.Venue),
				observability.F("attempt", attempt),
				observability.F("server_version", reply.ServerVersion))
			return reply, nil
		}
		c.log.Warn("gateway connect failed",
			observability.F("venue", c.cfg.Venue),
			observability.F("attempt", attempt),
			observability.F("error", err))

		if max := c.cfg.MaxConnectAttempts; max > 0 && attempt >= max {
			c.setState(StateDisconnected)
			return wire.HandshakeReply{}, errs.New(c.cfg.Venue, errs.CodeFatal,
				errs.WithMessage("connect attempts exhausted"), errs.WithCause(err))
		}

		wait := pacing.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return wire.HandshakeReply{}, ctx.Err()
		}
	}
}

// readHandshakeFrame blocks for the first frame off the wire. It runs before
// the reader pump owns the socket, so a direct read is safe; the transport is
// closed on timeout to unblock the read.
func (c *sessionConn) readHandshakeFrame(ctx context.Context) ([]byte, error) {
	type result struct {
		frame []byte
		err   error
	}
	out := make(chan result, 1)
	go func() {
		var buf []byte
		chunk := make([]byte, 4096)
		for {
			if frame, _ := wire.ReadFrame(buf); frame != nil {
				out <- result{frame: frame}
				return
			}
			n, err := c.trans.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				out <- result{err: err}
				return
			}
		}
	}()

	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case r := <-out:
		return r.frame, r.err
	case <-timer.C:
		_ = c.trans.Close()
		return nil, errs.Timeout(c.cfg.Venue, "handshake reply not received")
	case <-ctx.Done():
		_ = c.trans.Close()
		return nil, ctx.Err()
	}
}
