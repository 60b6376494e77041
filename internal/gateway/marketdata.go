package gateway

import (
	"context"
	"strings"

	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/correlation"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/schema"
	"github.com/halyard-io/halyard/internal/wire"
)

// Subscription name prefixes. Names read like "mktData/AAPL" and are the
// stable identity a caller uses across reconnects.
const (
	nameMktData = "mktData/"
	nameDepth   = "depth/"
	nameAccount = "account/"
)

// SubscribeMarketData opens a top-of-book stream for the symbol. Ticks,
// trade prints and bars for the stream publish to the data endpoint.
func (c *Client) SubscribeMarketData(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := schema.ValidateSymbol(symbol); err != nil {
		return err
	}
	id := c.NextCorrelationID()
	corr := int64(id)
	_, err := c.Subscribe(ctx, id, nameMktData+symbol,
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeSubscribeMarketData(corr, symbol))
		},
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeCancelMarketData(corr))
		},
	)
	return err
}

// UnsubscribeMarketData cancels the symbol's top-of-book stream.
func (c *Client) UnsubscribeMarketData(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return c.Unsubscribe(ctx, nameMktData+symbol)
}

// SubscribeDepth opens an order-book depth stream for the symbol with the
// requested number of rows per side.
func (c *Client) SubscribeDepth(ctx context.Context, symbol string, rows int) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := schema.ValidateSymbol(symbol); err != nil {
		return err
	}
	if rows <= 0 {
		return errs.New(c.cfg.Venue, errs.CodeInvalid, errs.WithMessage("depth rows must be positive"))
	}
	id := c.NextCorrelationID()
	corr := int64(id)
	_, err := c.Subscribe(ctx, id, nameDepth+symbol,
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeSubscribeDepth(corr, symbol, rows))
		},
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeCancelDepth(corr))
		},
	)
	return err
}

// UnsubscribeDepth cancels the symbol's depth stream.
func (c *Client) UnsubscribeDepth(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return c.Unsubscribe(ctx, nameDepth+symbol)
}

func (c *Client) onTick(ctx context.Context, m wire.Tick) {
	sub, ok := c.subs.ByID(correlation.ID(m.CorrelationID))
	if !ok {
		c.log.Debug("tick for unknown subscription",
			observability.F("correlation_id", m.CorrelationID))
		return
	}
	payload := schema.QuotePayload{
		BidPrice: m.BidPrice,
		BidSize:  m.BidSize,
		AskPrice: m.AskPrice,
		AskSize:  m.AskSize,
	}
	sub.UpdateLast(payload)
	c.publish(ctx, schema.EventQuote, symbolFromName(sub.Name), payload)
}

func (c *Client) onTradePrint(ctx context.Context, m wire.TradePrint) {
	sub, ok := c.subs.ByID(correlation.ID(m.CorrelationID))
	if !ok {
		return
	}
	payload := schema.TradePayload{Price: m.Price, Size: m.Size, TS: m.TS}
	sub.UpdateLast(payload)
	c.publish(ctx, schema.EventTrade, symbolFromName(sub.Name), payload)
}

func (c *Client) onBar(ctx context.Context, m wire.Bar) {
	sub, ok := c.subs.ByID(correlation.ID(m.CorrelationID))
	if !ok {
		return
	}
	payload := barPayload(m)
	sub.UpdateLast(payload)
	c.publish(ctx, schema.EventBar, symbolFromName(sub.Name), payload)
}

func (c *Client) onDepth(ctx context.Context, m wire.Depth) {
	sub, ok := c.subs.ByID(correlation.ID(m.CorrelationID))
	if !ok {
		return
	}
	payload := schema.BookPayload{Levels: []schema.BookLevel{{
		Side:     m.Side,
		Position: m.Position,
		Price:    m.Price,
		Size:     m.Size,
	}}}
	sub.UpdateLast(payload)
	c.publish(ctx, schema.EventBook, symbolFromName(sub.Name), payload)
}

func barPayload(m wire.Bar) schema.BarPayload {
	return schema.BarPayload{
		Start:  m.Start,
		Open:   m.Open,
		High:   m.High,
		Low:    m.Low,
		Close:  m.Close,
		Volume: m.Volume,
	}
}

// symbolFromName strips the kind prefix from a subscription name.
func symbolFromName(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
