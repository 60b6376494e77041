package gateway

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/halyard-io/halyard/internal/dispatch"
	"github.com/halyard-io/halyard/internal/schema"
	"github.com/halyard-io/halyard/internal/wire"
)

func startClient(t *testing.T, g *fakeGateway, watchdog time.Duration) *Client {
	t.Helper()
	c := New(testSession(g.addr(), watchdog))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestStartIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, time.Hour)

	if !c.Ready() {
		t.Fatalf("client not ready after start")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := g.handshakes.Load(); got != 1 {
		t.Fatalf("second start opened a new session: %d handshakes", got)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.Ready() {
		t.Fatalf("client still ready after stop")
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStartAnnouncesAccounts(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, time.Hour)

	waitFor(t, time.Second, "managed accounts", func() bool {
		accounts := c.Accounts()
		return len(accounts) == 1 && accounts[0] == "DU100"
	})
}

func TestRequestTimeoutReturnsDefault(t *testing.T) {
	g := newFakeGateway(t)
	g.silence("SLOW")
	c := startClient(t, g, time.Hour)

	bars, err := c.RequestHistory(context.Background(), "SLOW", "1m", 10)
	if err != nil {
		t.Fatalf("expected default value on timeout, got error %v", err)
	}
	if len(bars) != 0 {
		t.Fatalf("expected empty default, got %d bars", len(bars))
	}
	waitFor(t, time.Second, "request table to drain", func() bool {
		return c.requests.Len() == 0
	})
	if n := g.count(msgCancelHistory, nil); n == 0 {
		t.Fatalf("expected a cancel for the expired request")
	}
}

func TestConcurrentRequestsShareOneEntry(t *testing.T) {
	g := newFakeGateway(t)
	g.silence("DEDUP")
	c := startClient(t, g, time.Hour)

	type result struct {
		bars []schema.BarPayload
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			bars, err := c.RequestHistory(context.Background(), "DEDUP", "1m", 5)
			results <- result{bars, err}
		}()
	}

	isDedup := func(fields []string) bool { return len(fields) > 2 && fields[2] == "DEDUP" }
	waitFor(t, time.Second, "history request on the wire", func() bool {
		return g.count(msgRequestHistory, isDedup) >= 1
	})

	fields, _ := g.findFrame(msgRequestHistory, isDedup)
	corr := mustInt64(t, fields[1])
	g.sendAll(wire.EncodeHistorySlice(wire.Bar{
		CorrelationID: corr,
		Start:         time.Unix(1700000000, 0).UTC(),
		Open:          decimal.NewFromInt(10),
		High:          decimal.NewFromInt(12),
		Low:           decimal.NewFromInt(9),
		Close:         decimal.NewFromInt(11),
		Volume:        decimal.NewFromInt(100),
	}))
	g.sendAll(wire.EncodeHistoryEnd(corr))

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("request %d: %v", i, r.err)
		}
		if len(r.bars) != 1 {
			t.Fatalf("request %d: expected the shared result, got %d bars", i, len(r.bars))
		}
	}
	if n := g.count(msgRequestHistory, isDedup); n != 1 {
		t.Fatalf("expected a single send for concurrent requests, got %d", n)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, time.Hour)

	if err := c.SubscribeMarketData(context.Background(), "AAPL"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.SubscribeMarketData(context.Background(), "AAPL"); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if n := c.subs.Len(); n != 1 {
		t.Fatalf("expected one live subscription, got %d", n)
	}
	if n := g.count(msgSubscribeMktData, nil); n != 1 {
		t.Fatalf("expected one subscribe frame, got %d", n)
	}
}

func TestUnsubscribeSendsCancel(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, time.Hour)

	if err := c.SubscribeMarketData(context.Background(), "AAPL"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.UnsubscribeMarketData(context.Background(), "AAPL"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if n := c.subs.Len(); n != 0 {
		t.Fatalf("subscription survived unsubscribe")
	}
	waitFor(t, time.Second, "cancel frame", func() bool {
		return g.count(msgCancelMktData, nil) == 1
	})

	// Unknown names are a no-op.
	if err := c.UnsubscribeMarketData(context.Background(), "MSFT"); err != nil {
		t.Fatalf("unsubscribe unknown symbol: %v", err)
	}
}

func TestReconnectReplaysSubscriptionsOnce(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, 25*time.Millisecond)

	if err := c.SubscribeMarketData(context.Background(), "AAPL"); err != nil {
		t.Fatalf("subscribe market data: %v", err)
	}
	if err := c.SubscribeDepth(context.Background(), "MSFT", 5); err != nil {
		t.Fatalf("subscribe depth: %v", err)
	}

	g.dropConns()

	waitFor(t, 5*time.Second, "reconnect handshake", func() bool {
		return g.handshakes.Load() >= 2
	})
	waitFor(t, 5*time.Second, "client ready after reconnect", c.Ready)
	waitFor(t, time.Second, "subscription replay", func() bool {
		return g.count(msgSubscribeMktData, nil) == 2 && g.count(msgSubscribeDepth, nil) == 2
	})

	// Settle and confirm the replay happened exactly once per subscription.
	time.Sleep(100 * time.Millisecond)
	if n := g.count(msgSubscribeMktData, nil); n != 2 {
		t.Fatalf("market data subscribe replayed %d times", n-1)
	}
	if n := g.count(msgSubscribeDepth, nil); n != 2 {
		t.Fatalf("depth subscribe replayed %d times", n-1)
	}
	if n := c.subs.Len(); n != 2 {
		t.Fatalf("subscriptions lost across reconnect: %d live", n)
	}
}

func TestConnectivityNoticesToggleReadiness(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, time.Hour)

	g.sendAll(wire.EncodeErrorFrame(wire.NoCorrelationID, 1100, "connectivity lost"))
	waitFor(t, time.Second, "readiness to drop", func() bool { return !c.Ready() })

	g.sendAll(wire.EncodeErrorFrame(wire.NoCorrelationID, 1101, "connectivity restored"))
	waitFor(t, time.Second, "readiness to return", c.Ready)

	// A second restored notice on a ready session changes nothing.
	g.sendAll(wire.EncodeErrorFrame(wire.NoCorrelationID, 1101, "connectivity restored"))
	time.Sleep(50 * time.Millisecond)
	if !c.Ready() {
		t.Fatalf("redundant restored notice dropped readiness")
	}
}

func TestOrderRejectionRoutesToAccountHandler(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, time.Hour)

	statuses := make(chan schema.OrderStatusPayload, 1)
	c.SetOrderStatusHandler("DU100", func(p schema.OrderStatusPayload) {
		statuses <- p
	})

	clientOrderID, err := c.PlaceOrder(context.Background(), "DU100", "AAPL", "BUY", "LMT",
		decimal.NewFromInt(100), decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	waitFor(t, time.Second, "order frame on the wire", func() bool {
		return g.count(msgPlaceOrder, nil) == 1
	})
	fields, _ := g.findFrame(msgPlaceOrder, nil)
	venueOrderID := mustInt64(t, fields[1])
	g.sendAll(wire.EncodeErrorFrame(venueOrderID, 201, "order rejected: insufficient margin"))

	select {
	case p := <-statuses:
		if p.Outcome != schema.OrderRejected {
			t.Fatalf("expected rejection, got %s", p.Outcome)
		}
		if p.ClientOrderID != clientOrderID {
			t.Fatalf("rejection routed to wrong order: %s", p.ClientOrderID)
		}
		if p.Reason == "" {
			t.Fatalf("rejection lost the venue text")
		}
	case <-time.After(time.Second):
		t.Fatalf("rejection never reached the account handler")
	}

	// The rejection must not disturb the correlation tables or pending refs.
	if n := c.subs.Len(); n != 0 {
		t.Fatalf("subscription table changed: %d entries", n)
	}
	if n := c.orders.pending(); n != 1 {
		t.Fatalf("pending order ref count changed: %d", n)
	}
}

func TestTicksPublishInArrivalOrder(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, time.Hour)

	sink := dispatch.NewChannel(64)
	if err := c.RegisterConsumer(DefaultDataEndpoint, sink); err != nil {
		t.Fatalf("register consumer: %v", err)
	}
	if err := c.SubscribeMarketData(context.Background(), "AAPL"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	waitFor(t, time.Second, "subscribe frame", func() bool {
		return g.count(msgSubscribeMktData, nil) == 1
	})
	fields, _ := g.findFrame(msgSubscribeMktData, nil)
	corr := mustInt64(t, fields[1])

	const ticks = 5
	for i := 1; i <= ticks; i++ {
		px := decimal.NewFromInt(int64(i))
		g.sendAll(wire.EncodeTick(corr, px, decimal.NewFromInt(10), px.Add(decimal.NewFromInt(1)), decimal.NewFromInt(10)))
	}

	for i := 1; i <= ticks; i++ {
		select {
		case evt := <-sink.Events():
			if evt.Type != schema.EventQuote || evt.Symbol != "AAPL" {
				t.Fatalf("unexpected event %s/%s", evt.Type, evt.Symbol)
			}
			quote := evt.Payload.(schema.QuotePayload)
			if !quote.BidPrice.Equal(decimal.NewFromInt(int64(i))) {
				t.Fatalf("tick %d arrived out of order: bid %s", i, quote.BidPrice)
			}
		case <-time.After(time.Second):
			t.Fatalf("tick %d never published", i)
		}
	}

	// The subscription caches the most recent quote.
	sub, ok := c.subs.ByName(nameMktData + "AAPL")
	if !ok {
		t.Fatalf("subscription missing")
	}
	last := sub.Last().(schema.QuotePayload)
	if !last.BidPrice.Equal(decimal.NewFromInt(ticks)) {
		t.Fatalf("last-value cache stale: bid %s", last.BidPrice)
	}
}

func TestStopFailsPendingRequests(t *testing.T) {
	g := newFakeGateway(t)
	g.silence("HANG")
	c := startClient(t, g, time.Hour)

	done := make(chan error, 1)
	go func() {
		// Long timeout: only Stop can end this request.
		id := c.NextCorrelationID()
		corr := int64(id)
		_, err := c.Request(context.Background(), id, "history/HANG/1m",
			func(ctx context.Context) error {
				return c.send(ctx, wire.EncodeRequestHistory(corr, "HANG", "1m", 1))
			},
			nil, time.Minute, nil)
		done <- err
	}()

	waitFor(t, time.Second, "request registration", func() bool {
		_, ok := c.requests.ByName("history/HANG/1m")
		return ok
	})
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("pending request resolved without error after stop")
		}
	case <-time.After(time.Second):
		t.Fatalf("pending request still blocked after stop")
	}
	if n := c.requests.Len(); n != 0 {
		t.Fatalf("request table not drained by stop: %d entries", n)
	}
}

func TestResetRebuildsSession(t *testing.T) {
	g := newFakeGateway(t)
	c := startClient(t, g, time.Hour)

	if err := c.SubscribeMarketData(context.Background(), "AAPL"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !c.Ready() {
		t.Fatalf("client not ready after reset")
	}
	if got := g.handshakes.Load(); got != 2 {
		t.Fatalf("expected a fresh handshake on reset, got %d", got)
	}

	// Subscriptions survive the reset and Resume replays them.
	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitFor(t, time.Second, "subscription replay after resume", func() bool {
		return g.count(msgSubscribeMktData, nil) == 2
	})
}

func TestExhaustedReconnectStopsClient(t *testing.T) {
	g := newFakeGateway(t)
	cfg := testSession(g.addr(), 25*time.Millisecond)
	cfg.MaxConnectAttempts = 1
	c := New(cfg)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	g.close()

	waitFor(t, 5*time.Second, "client to stop after exhausting attempts", func() bool {
		return !c.Ready() && c.State() == StateDisconnected
	})
}

func TestStopUnblocksUnboundedConnect(t *testing.T) {
	g := newFakeGateway(t)
	cfg := testSession(g.addr(), time.Hour)
	cfg.MaxConnectAttempts = 0
	cfg.ReconnectDelay = 50 * time.Millisecond
	g.close()

	c := New(cfg)
	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()

	waitFor(t, time.Second, "connect loop to begin", func() bool {
		return c.conn.Attempts() >= 1
	})

	// Stop, Close and a second Start must not queue behind the retry loop.
	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked behind the connect loop")
	}

	select {
	case err := <-started:
		if err == nil {
			t.Fatalf("start succeeded against a closed gateway")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not return after stop")
	}
	if c.Ready() {
		t.Fatalf("client ready after interrupted start")
	}
}

func TestCancelledRequestReleasesEntry(t *testing.T) {
	g := newFakeGateway(t)
	g.silence("HANG")
	c := startClient(t, g, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		id := c.NextCorrelationID()
		corr := int64(id)
		_, err := c.Request(ctx, id, "history/HANG/1m",
			func(ctx context.Context) error {
				return c.send(ctx, wire.EncodeRequestHistory(corr, "HANG", "1m", 1))
			},
			func(ctx context.Context) error {
				return c.send(ctx, wire.EncodeCancelHistory(corr))
			},
			time.Minute, nil)
		done <- err
	}()

	waitFor(t, time.Second, "request registration", func() bool {
		_, ok := c.requests.ByName("history/HANG/1m")
		return ok
	})
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("request still blocked after cancellation")
	}
	// The id and name must be free again and the wire told to cancel.
	if n := c.requests.Len(); n != 0 {
		t.Fatalf("cancelled request left a residual entry: %d", n)
	}
	waitFor(t, time.Second, "cancel frame", func() bool {
		return g.count(msgCancelHistory, nil) == 1
	})
}

func mustInt64(t *testing.T, s string) int64 {
	t.Helper()
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		t.Fatalf("not a number: %q", s)
	}
	return v
}
