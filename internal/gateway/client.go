package gateway

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/halyard-io/halyard/config"
	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/correlation"
	"github.com/halyard-io/halyard/internal/dispatch"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/schema"
	"github.com/halyard-io/halyard/internal/telemetry"
	"github.com/halyard-io/halyard/internal/transport"
	"github.com/halyard-io/halyard/internal/wire"
)

// correlationFloor is the first id handed to callers. Ids below it are
// reserved for internal one-off probes.
const correlationFloor = 100

// DefaultDataEndpoint is where decoded market events are published unless an
// option overrides it.
const DefaultDataEndpoint = "DataEngine.process"

// Client is the resilient venue gateway client. One Client owns one logical
// session: a transport, the staged inbound pipeline, the correlation tables
// and the watchdog that keeps the session alive across disconnects.
type Client struct {
	cfg     config.Session
	trans   transport.Transport
	log     observability.Logger
	metrics *telemetry.SessionMetrics

	conn     *sessionConn
	pipe     *pipeline
	requests *correlation.RequestTable
	subs     *correlation.SubscriptionTable
	orders   *orderTable
	router   *errorRouter

	dispatch     *dispatch.Registry
	dataEndpoint string

	limiter *rate.Limiter

	nextID       atomic.Int64
	venueOrderID atomic.Int64

	// protoReady tracks gateway-confirmed session readiness; clientReady
	// tracks that Start completed and the session is usable by callers.
	protoReady  readyFlag
	clientReady readyFlag

	reconnecting atomic.Bool
	reconnects   atomic.Int64
	lastDrop     atomic.Int64

	sessMu   sync.Mutex
	accounts map[string]struct{}

	lifeMu    sync.Mutex
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	tasks     *conc.WaitGroup
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger overrides the process-global logger.
func WithLogger(l observability.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics wires the session instrument set. Without it nothing records.
func WithMetrics(m *telemetry.SessionMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTransport replaces the transport derived from configuration.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.trans = t
		}
	}
}

// WithDispatch routes decoded events to the given registry and endpoint name.
func WithDispatch(reg *dispatch.Registry, dataEndpoint string) Option {
	return func(c *Client) {
		if reg != nil {
			c.dispatch = reg
		}
		if dataEndpoint != "" {
			c.dataEndpoint = dataEndpoint
		}
	}
}

// New constructs a Client for the session configuration. The client does
// nothing until Start is called.
func New(cfg config.Session, opts ...Option) *Client {
	c := &Client{
		cfg:          cfg,
		log:          observability.Log(),
		requests:     correlation.NewRequestTable(),
		subs:         correlation.NewSubscriptionTable(),
		orders:       newOrderTable(),
		dispatch:     dispatch.NewRegistry(),
		dataEndpoint: DefaultDataEndpoint,
		accounts:     make(map[string]struct{}),
	}
	c.nextID.Store(correlationFloor)
	c.venueOrderID.Store(1)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.trans == nil {
		switch cfg.Trans {
		case config.TransportWebsocket:
			c.trans = transport.NewWebsocket(websocketURL(cfg.Host, cfg.Port))
		default:
			c.trans = transport.NewTCP(cfg.Host, cfg.Port)
		}
	}
	if cfg.ControlRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.ControlRate), 1)
	}
	c.conn = newSessionConn(cfg, c.trans, c.log)
	c.pipe = newPipeline(cfg.Venue, cfg.MaxFrameBytes, c.log, c.metrics)
	c.pipe.handle = c.handleMessage
	c.router = &errorRouter{
		venue:       cfg.Venue,
		log:         c.log,
		metrics:     c.metrics,
		requests:    c.requests,
		subs:        c.subs,
		orders:      c.orders,
		ready:       &c.protoReady,
		resubscribe: c.resubscribeOne,
		orderStatus: c.deliverOrderStatus,
	}
	return c
}

// Start connects, confirms session readiness and launches the background
// task set. Calling Start on a running client is a logged no-op.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.running {
		c.lifeMu.Unlock()
		c.log.Info("start ignored, client already running",
			observability.F("venue", c.cfg.Venue))
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	tasks := new(conc.WaitGroup)
	c.runCtx, c.runCancel, c.tasks = runCtx, cancel, tasks
	c.running = true
	c.lifeMu.Unlock()

	// Dial without holding lifeMu: the retry loop may run unbounded and Stop
	// must stay able to interrupt it through runCtx.
	dialCtx, dialCancel := context.WithCancel(ctx)
	defer dialCancel()
	unwatch := context.AfterFunc(runCtx, dialCancel)
	_, err := c.conn.connectWithRetry(dialCtx)
	unwatch()
	if err != nil {
		_ = c.Stop(context.Background())
		return err
	}

	c.lifeMu.Lock()
	if !c.running {
		// Stopped while dialing.
		c.lifeMu.Unlock()
		_ = c.trans.Close()
		return errs.New(c.cfg.Venue, errs.CodeUnavailable,
			errs.WithMessage("client stopped during start"))
	}
	c.spawn(tasks, runCtx, "decode", c.pipe.decodeLoop)
	c.spawn(tasks, runCtx, "handle", c.pipe.handlerLoop)
	c.spawnReader(tasks, runCtx)
	c.lifeMu.Unlock()

	if err := c.protoReady.Wait(ctx, c.cfg.HandshakeTimeout); err != nil {
		_ = c.Stop(ctx)
		return errs.New(c.cfg.Venue, errs.CodeHandshake,
			errs.WithMessage("session ready not confirmed"), errs.WithCause(err))
	}

	c.lifeMu.Lock()
	if c.running {
		dog := newWatchdog(c.cfg.WatchdogInterval, c.log, c.healthy, c.livenessProbe, c.handleDisconnection)
		c.spawn(c.tasks, c.runCtx, "watchdog", dog.run)
		c.spawn(c.tasks, c.runCtx, "probe", func(ctx context.Context) error {
			c.probeSession(ctx)
			return nil
		})
	}
	c.lifeMu.Unlock()

	c.clientReady.Set()
	return nil
}

// Stop tears the session down: readiness drops first so callers stop sending,
// the task set drains, and pending requests fail fast. Subscriptions and
// pending-order refs survive because Stop is not disposal; a later Start plus
// Resume replays them.
func (c *Client) Stop(ctx context.Context) error {
	c.lifeMu.Lock()
	if !c.running {
		c.lifeMu.Unlock()
		return nil
	}
	c.running = false
	cancel, tasks := c.runCancel, c.tasks
	c.runCtx, c.runCancel, c.tasks = nil, nil, nil
	c.lifeMu.Unlock()

	c.clientReady.Clear()
	c.protoReady.Clear()
	cancel()
	_ = c.trans.Close()

	done := make(chan struct{})
	go func() {
		tasks.Wait()
		close(done)
	}()
	grace := c.cfg.DisconnectGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		c.log.Warn("background tasks did not drain before grace expired")
	case <-ctx.Done():
	}

	for _, req := range c.requests.All() {
		req.Complete(nil, errs.New(c.cfg.Venue, errs.CodeUnavailable,
			errs.WithMessage("client stopped")))
		c.requests.RemoveByID(req.ID)
	}

	c.sessMu.Lock()
	c.accounts = make(map[string]struct{})
	c.sessMu.Unlock()
	c.dispatch.Clear()
	c.conn.setState(StateDisconnected)
	c.log.Info("gateway client stopped", observability.F("venue", c.cfg.Venue))
	return nil
}

// Close stops the client and discards every table. The client must not be
// reused afterwards.
func (c *Client) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	for _, sub := range c.subs.All() {
		c.subs.RemoveByID(sub.ID)
	}
	c.orders.clear()
	c.conn.setState(StateDisposed)
	return err
}

// Reset tears the session down and builds a new one. Used after a fatal
// protocol error where in-place recovery is not safe.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

// Resume blocks until the session is usable, then replays every live
// subscription.
func (c *Client) Resume(ctx context.Context) error {
	if err := c.clientReady.Wait(ctx, c.cfg.RequestTimeout); err != nil {
		return errs.New(c.cfg.Venue, errs.CodeUnavailable,
			errs.WithMessage("session did not become ready"), errs.WithCause(err))
	}
	c.resubscribeAll(ctx)
	return nil
}

// Degrade drops readiness without touching the task set. Session-scoped
// caches clear; subscriptions and pending-order refs survive for replay.
func (c *Client) Degrade() {
	wasReady := c.protoReady.IsSet() || c.clientReady.IsSet()
	c.clientReady.Clear()
	c.protoReady.Clear()
	c.sessMu.Lock()
	c.accounts = make(map[string]struct{})
	c.sessMu.Unlock()
	if c.conn.State() == StateConnected {
		c.conn.setState(StateDegraded)
	}
	if wasReady {
		c.lastDrop.Store(time.Now().UnixNano())
		c.log.Warn("session degraded", observability.F("venue", c.cfg.Venue))
	}
}

// Ready reports whether the session is usable right now.
func (c *Client) Ready() bool {
	return c.clientReady.IsSet() && c.protoReady.IsSet()
}

// State returns the connection lifecycle state.
func (c *Client) State() State { return c.conn.State() }

// NextCorrelationID issues a fresh caller-facing correlation id.
func (c *Client) NextCorrelationID() correlation.ID {
	return correlation.ID(c.nextID.Add(1) - 1)
}

// Request runs a one-shot request identified by name. Concurrent callers for
// the same name share one in-flight entry and one outcome; the first timeout
// settles the shared handle with the default value so every waiter observes
// the same result.
func (c *Client) Request(ctx context.Context, id correlation.ID, name string, send, cancel correlation.Action, timeout time.Duration, def any) (any, error) {
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	if existing, ok := c.requests.ByName(name); ok {
		return c.awaitRequest(ctx, existing, timeout, def)
	}
	req, err := c.requests.Register(id, name, send, cancel)
	if err != nil {
		// Lost a registration race; ride the winner's entry.
		if existing, ok := c.requests.ByName(name); ok {
			return c.awaitRequest(ctx, existing, timeout, def)
		}
		return def, err
	}
	if err := send(ctx); err != nil {
		c.requests.RemoveByID(req.ID)
		req.Complete(nil, err)
		return def, err
	}
	return c.awaitRequest(ctx, req, timeout, def)
}

func (c *Client) awaitRequest(ctx context.Context, req *correlation.Request, timeout time.Duration, def any) (any, error) {
	value, err := req.Await(ctx, timeout)
	if err == nil {
		return value, nil
	}
	// Timeout and caller cancellation both abandon the shared request:
	// force-settle with the default so every deduplicated waiter observes one
	// outcome, cancel on the wire and release the id and name. Losing the
	// settle race means another party completed first.
	won := req.Complete(def, nil)
	if won {
		if req.Cancel != nil {
			_ = req.Cancel(context.WithoutCancel(ctx))
		}
		c.requests.RemoveByID(req.ID)
		c.log.Warn("request abandoned, returning default",
			observability.F("name", req.Name),
			observability.F("cause", err))
	}
	if !errors.Is(err, errs.New("", errs.CodeTimeout)) {
		return def, err
	}
	if won {
		return def, nil
	}
	return req.Await(ctx, 0)
}

// Subscribe registers a long-lived subscription and performs its initial
// send. Subscribing an already-live name is a no-op returning the live entry.
func (c *Client) Subscribe(ctx context.Context, id correlation.ID, name string, send, cancel correlation.Action) (*correlation.Subscription, error) {
	if existing, ok := c.subs.ByName(name); ok {
		c.log.Debug("already subscribed", observability.F("name", name))
		return existing, nil
	}
	sub, err := c.subs.Register(id, name, send, cancel)
	if err != nil {
		if existing, ok := c.subs.ByName(name); ok {
			return existing, nil
		}
		return nil, err
	}
	if err := send(ctx); err != nil {
		c.subs.RemoveByID(id)
		return nil, err
	}
	return sub, nil
}

// Unsubscribe cancels and removes the named subscription. Unknown names are a
// no-op.
func (c *Client) Unsubscribe(ctx context.Context, name string) error {
	sub, ok := c.subs.RemoveByName(name)
	if !ok {
		return nil
	}
	if sub.Cancel == nil {
		return nil
	}
	return sub.Cancel(ctx)
}

// RegisterConsumer binds a downstream endpoint for published events. Consumer
// bindings are session-scoped: Stop clears them.
func (c *Client) RegisterConsumer(name string, p dispatch.Publisher) error {
	return c.dispatch.Register(name, p)
}

// send writes one outbound frame, pacing control traffic when a rate cap is
// configured.
func (c *Client) send(ctx context.Context, frame []byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.trans.Write(ctx, frame)
}

// publish hands one canonical event to the data endpoint. Delivery failures
// log instead of propagating: a slow or absent consumer must not stall the
// handler loop.
func (c *Client) publish(ctx context.Context, typ schema.EventType, symbol string, payload any) {
	evt := &schema.Event{
		Venue:    c.cfg.Venue,
		Symbol:   symbol,
		Type:     typ,
		IngestTS: time.Now().UTC(),
		Payload:  payload,
	}
	if err := c.dispatch.Publish(ctx, c.dataEndpoint, evt); err != nil {
		if errors.Is(err, errs.New("", errs.CodeNotFound)) {
			c.log.Debug("no consumer for event",
				observability.F("endpoint", c.dataEndpoint),
				observability.F("type", string(typ)))
			return
		}
		c.log.Warn("event publish failed",
			observability.F("endpoint", c.dataEndpoint),
			observability.F("type", string(typ)),
			observability.F("error", err))
	}
}

// spawn runs fn as a named background task. Panics and errors are captured at
// the task boundary; a protocol error escalates to a full reset.
func (c *Client) spawn(tasks *conc.WaitGroup, ctx context.Context, name string, fn func(context.Context) error) {
	tasks.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("background task panicked",
					observability.F("task", name),
					observability.F("panic", r))
			}
		}()
		err := fn(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, errs.New("", errs.CodeProtocol)):
			c.log.Error("task hit a protocol error, resetting client",
				observability.F("task", name),
				observability.F("error", err))
			go func() {
				_ = c.Reset(context.Background())
			}()
		default:
			c.log.Warn("background task exited",
				observability.F("task", name),
				observability.F("error", err))
		}
	})
}

// spawnReader starts the reader pump for the current connection. The pump's
// exit is the first disconnect signal: readiness drops and the watchdog takes
// it from there.
func (c *Client) spawnReader(tasks *conc.WaitGroup, ctx context.Context) {
	trans := c.trans
	c.spawn(tasks, ctx, "reader", func(ctx context.Context) error {
		err := c.pipe.readLoop(ctx, trans)
		if c.protoReady.IsSet() {
			c.protoReady.Clear()
			c.lastDrop.Store(time.Now().UnixNano())
		}
		return err
	})
}

func (c *Client) healthy() bool {
	return c.protoReady.IsSet() && c.trans.Connected()
}

// livenessProbe pings the gateway on healthy watchdog ticks. Best effort: a
// failed write surfaces through the reader exit, not here.
func (c *Client) livenessProbe(ctx context.Context) {
	if err := c.send(ctx, wire.EncodePing()); err != nil {
		c.log.Debug("liveness ping failed", observability.F("error", err))
	}
}

// handleDisconnection is the watchdog's recovery routine: degrade, wait out
// the grace window, rebuild the connection and replay subscriptions. A
// compare-and-swap keeps concurrent triggers from racing the rebuild.
func (c *Client) handleDisconnection(ctx context.Context) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	c.Degrade()
	c.conn.setState(StateReconnecting)

	if grace := c.cfg.DisconnectGrace; grace > 0 {
		select {
		case <-time.After(grace):
		case <-ctx.Done():
			return
		}
	}
	if c.healthy() {
		// The blip healed itself inside the grace window.
		c.conn.setState(StateConnected)
		return
	}

	_ = c.trans.Close()
	if _, err := c.conn.connectWithRetry(ctx); err != nil {
		c.metrics.Reconnect(ctx, false)
		if errors.Is(err, errs.New("", errs.CodeFatal)) {
			c.log.Error("reconnect attempts exhausted, stopping client",
				observability.F("venue", c.cfg.Venue),
				observability.F("error", err))
			go func() {
				_ = c.Stop(context.Background())
			}()
		}
		return
	}
	c.metrics.Reconnect(ctx, true)
	c.reconnects.Add(1)

	c.lifeMu.Lock()
	if c.running {
		c.spawnReader(c.tasks, c.runCtx)
	}
	c.lifeMu.Unlock()

	if err := c.protoReady.Wait(ctx, c.cfg.HandshakeTimeout); err != nil {
		c.log.Warn("session ready not confirmed after reconnect",
			observability.F("error", err))
		return
	}
	c.clientReady.Set()
	c.resubscribeAll(ctx)
}

// resubscribeAll replays the send action of every live subscription exactly
// once. Failures log and skip so one bad entry cannot block the rest.
func (c *Client) resubscribeAll(ctx context.Context) {
	for _, sub := range c.subs.All() {
		if err := sub.Send(ctx); err != nil {
			c.log.Warn("resubscribe failed",
				observability.F("name", sub.Name),
				observability.F("error", err))
			continue
		}
		c.metrics.Resubscription(ctx)
	}
}

// resubscribeOne cancels and replays a single subscription, used when the
// venue reports the stream as already subscribed under a stale session.
func (c *Client) resubscribeOne(ctx context.Context, sub *correlation.Subscription) {
	if sub.Cancel != nil {
		_ = sub.Cancel(ctx)
	}
	if err := sub.Send(ctx); err != nil {
		c.log.Warn("subscription replay failed",
			observability.F("name", sub.Name),
			observability.F("error", err))
		return
	}
	c.metrics.Resubscription(ctx)
}

// handleMessage is the single entry point of the sequential handler stage.
func (c *Client) handleMessage(ctx context.Context, msg wire.Message) {
	switch m := msg.(type) {
	case wire.SessionReady:
		c.onSessionReady(m)
	case wire.ManagedAccounts:
		c.onManagedAccounts(m)
	case wire.ErrorFrame:
		c.router.route(ctx, m)
	case wire.Tick:
		c.onTick(ctx, m)
	case wire.TradePrint:
		c.onTradePrint(ctx, m)
	case wire.Bar:
		c.onBar(ctx, m)
	case wire.Depth:
		c.onDepth(ctx, m)
	case wire.HistorySlice:
		c.onHistorySlice(m)
	case wire.HistoryEnd:
		c.onHistoryEnd(m)
	case wire.OrderStatus:
		c.onOrderStatus(ctx, m)
	case wire.AccountValue:
		c.onAccountValue(ctx, m)
	case wire.AccountEnd:
		c.onAccountEnd(m)
	case wire.Position:
		c.onPosition(m)
	case wire.PositionEnd:
		c.onPositionEnd(m)
	case wire.Pong:
	default:
		c.log.Warn("unhandled gateway message")
	}
}

func (c *Client) onSessionReady(m wire.SessionReady) {
	if m.NextOrderID > 0 {
		c.venueOrderID.Store(m.NextOrderID)
	}
	c.conn.setState(StateConnected)
	if c.protoReady.Set() {
		c.log.Info("session ready",
			observability.F("venue", c.cfg.Venue),
			observability.F("next_order_id", m.NextOrderID))
	}
}

func websocketURL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port))
}
