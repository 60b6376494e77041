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

// reservedProbeID sits in the low id range kept out of NextCorrelationID,
// used for internal one-off requests.
const reservedProbeID correlation.ID = 1

// RequestHistory fetches up to bars historical bars for the symbol. A timeout
// yields the default empty slice rather than an error; concurrent requests
// for the same symbol and bar size share one in-flight entry.
func (c *Client) RequestHistory(ctx context.Context, symbol, barSize string, bars int) ([]schema.BarPayload, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := schema.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if strings.TrimSpace(barSize) == "" {
		return nil, errs.New(c.cfg.Venue, errs.CodeInvalid, errs.WithMessage("bar size required"))
	}
	if bars <= 0 {
		return nil, errs.New(c.cfg.Venue, errs.CodeInvalid, errs.WithMessage("bar count must be positive"))
	}

	name := "history/" + symbol + "/" + barSize
	id := c.NextCorrelationID()
	corr := int64(id)
	value, err := c.Request(ctx, id, name,
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeRequestHistory(corr, symbol, barSize, bars))
		},
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeCancelHistory(corr))
		},
		c.cfg.RequestTimeout, []any(nil))
	if err != nil {
		return nil, err
	}
	return barRows(value), nil
}

func barRows(value any) []schema.BarPayload {
	rows, _ := value.([]any)
	out := make([]schema.BarPayload, 0, len(rows))
	for _, row := range rows {
		if b, ok := row.(schema.BarPayload); ok {
			out = append(out, b)
		}
	}
	return out
}

func (c *Client) onHistorySlice(m wire.HistorySlice) {
	req, ok := c.requests.ByID(correlation.ID(m.CorrelationID))
	if !ok {
		c.log.Debug("history slice for unknown request",
			observability.F("correlation_id", m.CorrelationID))
		return
	}
	req.Append(barPayload(m.Bar))
}

func (c *Client) onHistoryEnd(m wire.HistoryEnd) {
	req, ok := c.requests.ByID(correlation.ID(m.CorrelationID))
	if !ok {
		return
	}
	req.Complete(nil, nil)
	c.requests.RemoveByID(req.ID)
}

// probeSession issues a synthetic one-bar history request on a reserved id to
// confirm the session answers correlated traffic end to end. Best effort:
// failures only log.
func (c *Client) probeSession(ctx context.Context) {
	corr := int64(reservedProbeID)
	_, err := c.Request(ctx, reservedProbeID, "probe/session",
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeRequestHistory(corr, "PROBE", "1m", 1))
		},
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeCancelHistory(corr))
		},
		c.cfg.RequestTimeout, []any(nil))
	if err != nil {
		c.log.Warn("session probe failed", observability.F("error", err))
	}
}
