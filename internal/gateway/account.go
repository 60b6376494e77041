package gateway

import (
	"context"
	"sort"
	"strings"

	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/schema"
	"github.com/halyard-io/halyard/internal/wire"
)

// Accounts returns the account ids the gateway announced for this session,
// sorted. Empty until the managed-accounts frame arrives.
func (c *Client) Accounts() []string {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	out := make([]string, 0, len(c.accounts))
	for id := range c.accounts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Client) onManagedAccounts(m wire.ManagedAccounts) {
	set := make(map[string]struct{}, len(m.Accounts))
	for _, id := range m.Accounts {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	c.sessMu.Lock()
	c.accounts = set
	c.sessMu.Unlock()
	c.log.Info("managed accounts announced",
		observability.F("venue", c.cfg.Venue),
		observability.F("count", len(set)))
}

// SubscribeAccount streams account value updates for the account id.
func (c *Client) SubscribeAccount(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return errs.New(c.cfg.Venue, errs.CodeInvalid, errs.WithMessage("account id required"))
	}
	id := c.NextCorrelationID()
	corr := int64(id)
	_, err := c.Subscribe(ctx, id, nameAccount+accountID,
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeRequestAccount(corr, accountID))
		},
		nil,
	)
	return err
}

// UnsubscribeAccount drops the account value stream for the account id.
func (c *Client) UnsubscribeAccount(ctx context.Context, accountID string) error {
	return c.Unsubscribe(ctx, nameAccount+strings.TrimSpace(accountID))
}

func (c *Client) onAccountValue(ctx context.Context, m wire.AccountValue) {
	payload := schema.AccountValuePayload{
		AccountID: m.AccountID,
		Key:       m.Key,
		Value:     m.Value,
		Currency:  m.Currency,
	}
	if sub, ok := c.subs.ByName(nameAccount + m.AccountID); ok {
		sub.UpdateLast(payload)
	}
	c.publish(ctx, schema.EventAccount, "", payload)
}

func (c *Client) onAccountEnd(m wire.AccountEnd) {
	c.log.Debug("account snapshot complete",
		observability.F("account_id", m.AccountID))
}

// positionsRequestName keys the positions snapshot; the venue replies without
// a correlation id, so rows resolve by name.
const positionsRequestName = "positions"

// RequestPositions fetches a snapshot of open positions across accounts. A
// timeout yields the default empty slice; concurrent callers share one
// in-flight snapshot.
func (c *Client) RequestPositions(ctx context.Context) ([]schema.PositionPayload, error) {
	id := c.NextCorrelationID()
	corr := int64(id)
	value, err := c.Request(ctx, id, positionsRequestName,
		func(ctx context.Context) error {
			return c.send(ctx, wire.EncodeRequestPositions(corr))
		},
		nil,
		c.cfg.RequestTimeout, []any(nil))
	if err != nil {
		return nil, err
	}
	rows, _ := value.([]any)
	out := make([]schema.PositionPayload, 0, len(rows))
	for _, row := range rows {
		if p, ok := row.(schema.PositionPayload); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Client) onPosition(m wire.Position) {
	req, ok := c.requests.ByName(positionsRequestName)
	if !ok {
		c.log.Debug("position row without an open snapshot",
			observability.F("account_id", m.AccountID),
			observability.F("symbol", m.Symbol))
		return
	}
	req.Append(schema.PositionPayload{
		AccountID: m.AccountID,
		Symbol:    m.Symbol,
		Quantity:  m.Quantity,
		AvgCost:   m.AvgCost,
	})
}

func (c *Client) onPositionEnd(wire.PositionEnd) {
	req, ok := c.requests.ByName(positionsRequestName)
	if !ok {
		return
	}
	req.Complete(nil, nil)
	c.requests.RemoveByID(req.ID)
}
