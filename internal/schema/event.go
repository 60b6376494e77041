// Package schema defines the canonical domain events emitted by the gateway client.
package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/halyard-io/halyard/errs"
)

// EventType identifies canonical event categories published downstream.
type EventType string

const (
	// EventQuote carries a top-of-book bid/ask update.
	EventQuote EventType = "QUOTE"
	// EventTrade carries a last-trade print.
	EventTrade EventType = "TRADE"
	// EventBar carries an aggregated OHLCV bar.
	EventBar EventType = "BAR"
	// EventBook carries an order-book depth update.
	EventBook EventType = "BOOK"
	// EventOrderStatus carries an order lifecycle transition.
	EventOrderStatus EventType = "ORDER.STATUS"
	// EventAccount carries an account value update.
	EventAccount EventType = "ACCOUNT"
	// EventPosition carries a position update.
	EventPosition EventType = "POSITION"
)

// Validate ensures the event type is one of the canonical categories.
func (t EventType) Validate() error {
	switch t {
	case EventQuote, EventTrade, EventBar, EventBook, EventOrderStatus, EventAccount, EventPosition:
		return nil
	default:
		return errs.New("", errs.CodeInvalid, errs.WithMessage("unknown event type "+string(t)))
	}
}

// Event represents a canonical event handed to the downstream publish boundary.
type Event struct {
	Venue    string    `json:"venue"`
	Symbol   string    `json:"symbol"`
	Type     EventType `json:"type"`
	IngestTS time.Time `json:"ingest_ts"`
	Payload  any       `json:"payload"`
}

// QuotePayload is the payload for EventQuote.
type QuotePayload struct {
	BidPrice decimal.Decimal `json:"bid_price"`
	BidSize  decimal.Decimal `json:"bid_size"`
	AskPrice decimal.Decimal `json:"ask_price"`
	AskSize  decimal.Decimal `json:"ask_size"`
}

// TradePayload is the payload for EventTrade.
type TradePayload struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	TS    time.Time       `json:"ts"`
}

// BarPayload is the payload for EventBar.
type BarPayload struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// BookLevel is one side/level of an order-book update.
type BookLevel struct {
	Side     string          `json:"side"`
	Position int             `json:"position"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
}

// BookPayload is the payload for EventBook.
type BookPayload struct {
	Levels []BookLevel `json:"levels"`
}

// AccountValuePayload is the payload for EventAccount.
type AccountValuePayload struct {
	AccountID string          `json:"account_id"`
	Key       string          `json:"key"`
	Value     decimal.Decimal `json:"value"`
	Currency  string          `json:"currency"`
}

// PositionPayload is the payload for EventPosition.
type PositionPayload struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
}

// ValidateSymbol verifies a venue symbol is present and normalised.
func ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	if strings.ToUpper(symbol) != symbol {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("symbol must be uppercase"))
	}
	return nil
}
