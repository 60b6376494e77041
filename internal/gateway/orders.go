package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/schema"
	"github.com/halyard-io/halyard/internal/wire"
)

// OrderRef ties a venue order id back to the submitting account and the
// client-side order id.
type OrderRef struct {
	AccountID     string
	ClientOrderID string
	Symbol        string
}

// OrderStatusHandler receives order lifecycle updates for one account.
type OrderStatusHandler func(payload schema.OrderStatusPayload)

// orderTable tracks pending order refs and the per-account status handlers.
// Refs outlive disconnects and resets; status for an order submitted before
// an outage can still arrive afterwards and must resolve to its account.
type orderTable struct {
	mu       sync.RWMutex
	refs     map[int64]OrderRef
	handlers map[string]OrderStatusHandler
}

func newOrderTable() *orderTable {
	return &orderTable{
		refs:     make(map[int64]OrderRef),
		handlers: make(map[string]OrderStatusHandler),
	}
}

func (t *orderTable) track(orderID int64, ref OrderRef) {
	t.mu.Lock()
	t.refs[orderID] = ref
	t.mu.Unlock()
}

func (t *orderTable) ref(orderID int64) (OrderRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.refs[orderID]
	return ref, ok
}

func (t *orderTable) byClientOrderID(clientOrderID string) (int64, OrderRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, ref := range t.refs {
		if ref.ClientOrderID == clientOrderID {
			return id, ref, true
		}
	}
	return 0, OrderRef{}, false
}

func (t *orderTable) setHandler(accountID string, h OrderStatusHandler) {
	t.mu.Lock()
	if h == nil {
		delete(t.handlers, accountID)
	} else {
		t.handlers[accountID] = h
	}
	t.mu.Unlock()
}

func (t *orderTable) handlerFor(accountID string) (OrderStatusHandler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[accountID]
	return h, ok
}

func (t *orderTable) pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.refs)
}

func (t *orderTable) clear() {
	t.mu.Lock()
	t.refs = make(map[int64]OrderRef)
	t.handlers = make(map[string]OrderStatusHandler)
	t.mu.Unlock()
}

// SetOrderStatusHandler routes status updates for the account's orders to h.
// A nil handler removes the routing.
func (c *Client) SetOrderStatusHandler(accountID string, h OrderStatusHandler) {
	c.orders.setHandler(accountID, h)
}

// PlaceOrder submits an order and returns the client order id identifying it
// in later status callbacks. Submission is fire-and-forget: after argument
// validation every outcome, including a failed send, reaches the account's
// status handler asynchronously instead of being returned here.
func (c *Client) PlaceOrder(ctx context.Context, accountID, symbol, side, orderType string, quantity, limitPrice decimal.Decimal) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", errs.New(c.cfg.Venue, errs.CodeInvalid, errs.WithMessage("account id required"))
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := schema.ValidateSymbol(symbol); err != nil {
		return "", err
	}
	if !quantity.IsPositive() {
		return "", errs.New(c.cfg.Venue, errs.CodeInvalid, errs.WithMessage("order quantity must be positive"))
	}

	clientOrderID := uuid.NewString()
	orderID := c.nextVenueOrderID()
	c.orders.track(orderID, OrderRef{AccountID: accountID, ClientOrderID: clientOrderID, Symbol: symbol})

	ticket := wire.OrderTicket{
		OrderID:       orderID,
		AccountID:     accountID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		Quantity:      quantity,
		LimitPrice:    limitPrice,
	}
	if err := c.send(ctx, wire.EncodePlaceOrder(ticket)); err != nil {
		c.log.Warn("order submission failed before reaching the venue",
			observability.F("account_id", accountID),
			observability.F("client_order_id", clientOrderID),
			observability.F("error", err))
		c.deliverOrderStatus(ctx, schema.OrderStatusPayload{
			AccountID:     accountID,
			ClientOrderID: clientOrderID,
			VenueOrderID:  orderID,
			Outcome:       schema.OrderRejected,
			Reason:        err.Error(),
			TS:            time.Now().UTC(),
		})
	}
	return clientOrderID, nil
}

// CancelOrder requests cancellation of a previously placed order. The
// confirmation arrives as a status callback.
func (c *Client) CancelOrder(ctx context.Context, clientOrderID string) error {
	orderID, _, ok := c.orders.byClientOrderID(clientOrderID)
	if !ok {
		return errs.New(c.cfg.Venue, errs.CodeNotFound,
			errs.WithMessage("no pending order "+clientOrderID))
	}
	return c.send(ctx, wire.EncodeCancelOrder(orderID))
}

func (c *Client) onOrderStatus(ctx context.Context, m wire.OrderStatus) {
	ref, ok := c.orders.ref(m.OrderID)
	if !ok {
		c.log.Warn("status for unknown venue order id",
			observability.F("venue_order_id", m.OrderID),
			observability.F("status", m.Status))
		return
	}
	c.deliverOrderStatus(ctx, schema.OrderStatusPayload{
		AccountID:     ref.AccountID,
		ClientOrderID: ref.ClientOrderID,
		VenueOrderID:  m.OrderID,
		Outcome:       outcomeFromStatus(m.Status),
		Filled:        m.Filled,
		Remaining:     m.Remaining,
		AvgFillPrice:  m.AvgFillPrice,
		TS:            time.Now().UTC(),
	})
}

// deliverOrderStatus hands the payload to the account's handler and publishes
// the canonical event downstream.
func (c *Client) deliverOrderStatus(ctx context.Context, payload schema.OrderStatusPayload) {
	if h, ok := c.orders.handlerFor(payload.AccountID); ok {
		h(payload)
	} else {
		c.log.Warn("no status handler for account",
			observability.F("account_id", payload.AccountID),
			observability.F("outcome", string(payload.Outcome)))
	}
	ref, _ := c.orders.ref(payload.VenueOrderID)
	c.publish(ctx, schema.EventOrderStatus, ref.Symbol, payload)
}

func outcomeFromStatus(status string) schema.OrderOutcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pendingsubmit", "presubmitted", "submitted", "accepted":
		return schema.OrderAccepted
	case "filled":
		return schema.OrderFilled
	case "partial", "partiallyfilled":
		return schema.OrderPartiallyFilled
	case "pendingcancel", "apicancelled", "cancelled", "canceled":
		return schema.OrderCancelled
	case "rejected", "inactive":
		return schema.OrderRejected
	default:
		return schema.OrderUnknown
	}
}

func (c *Client) nextVenueOrderID() int64 {
	return c.venueOrderID.Add(1) - 1
}
