package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderOutcome classifies an order lifecycle transition derived from venue traffic.
type OrderOutcome string

const (
	// OrderAccepted marks an order acknowledged by the venue.
	OrderAccepted OrderOutcome = "accepted"
	// OrderFilled marks a complete fill.
	OrderFilled OrderOutcome = "filled"
	// OrderPartiallyFilled marks a partial fill.
	OrderPartiallyFilled OrderOutcome = "partially_filled"
	// OrderCancelled marks a confirmed cancellation.
	OrderCancelled OrderOutcome = "cancelled"
	// OrderRejected marks a venue rejection.
	OrderRejected OrderOutcome = "rejected"
	// OrderUnknown marks a transition the client could not classify.
	OrderUnknown OrderOutcome = "unknown"
)

// OrderStatusPayload is the payload for EventOrderStatus.
type OrderStatusPayload struct {
	AccountID     string          `json:"account_id"`
	ClientOrderID string          `json:"client_order_id"`
	VenueOrderID  int64           `json:"venue_order_id"`
	Outcome       OrderOutcome    `json:"outcome"`
	Filled        decimal.Decimal `json:"filled"`
	Remaining     decimal.Decimal `json:"remaining"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Reason        string          `json:"reason,omitempty"`
	TS            time.Time       `json:"ts"`
}
