package wire

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// OrderTicket carries the outbound fields of an order submission.
type OrderTicket struct {
	OrderID       int64
	AccountID     string
	ClientOrderID string
	Symbol        string
	Side          string
	Type          string
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal
}

// EncodeStartSession opens the application-level session for a client id.
func EncodeStartSession(clientID int64) []byte {
	return EncodeFrame(itoa(typeStartSession), strconv.FormatInt(clientID, 10))
}

// EncodeSubscribeMarketData subscribes top-of-book data for a symbol.
func EncodeSubscribeMarketData(corrID int64, symbol string) []byte {
	return EncodeFrame(itoa(typeSubscribeMktData), strconv.FormatInt(corrID, 10), symbol)
}

// EncodeCancelMarketData cancels a market data subscription.
func EncodeCancelMarketData(corrID int64) []byte {
	return EncodeFrame(itoa(typeCancelMktData), strconv.FormatInt(corrID, 10))
}

// EncodeSubscribeDepth subscribes order-book depth for a symbol.
func EncodeSubscribeDepth(corrID int64, symbol string, rows int) []byte {
	return EncodeFrame(itoa(typeSubscribeDepth), strconv.FormatInt(corrID, 10), symbol, strconv.Itoa(rows))
}

// EncodeCancelDepth cancels a depth subscription.
func EncodeCancelDepth(corrID int64) []byte {
	return EncodeFrame(itoa(typeCancelDepth), strconv.FormatInt(corrID, 10))
}

// EncodePlaceOrder submits an order ticket.
func EncodePlaceOrder(t OrderTicket) []byte {
	return EncodeFrame(
		itoa(typePlaceOrder),
		strconv.FormatInt(t.OrderID, 10),
		t.AccountID,
		t.ClientOrderID,
		t.Symbol,
		t.Side,
		t.Type,
		t.Quantity.String(),
		t.LimitPrice.String(),
	)
}

// EncodeCancelOrder cancels a previously submitted order.
func EncodeCancelOrder(orderID int64) []byte {
	return EncodeFrame(itoa(typeCancelOrder), strconv.FormatInt(orderID, 10))
}

// EncodeRequestHistory requests historical bars for a symbol.
func EncodeRequestHistory(corrID int64, symbol, barSize string, bars int) []byte {
	return EncodeFrame(itoa(typeRequestHistory), strconv.FormatInt(corrID, 10), symbol, barSize, strconv.Itoa(bars))
}

// EncodeCancelHistory abandons an in-flight historical request.
func EncodeCancelHistory(corrID int64) []byte {
	return EncodeFrame(itoa(typeCancelHistory), strconv.FormatInt(corrID, 10))
}

// EncodeRequestAccount subscribes account value updates for an account.
func EncodeRequestAccount(corrID int64, accountID string) []byte {
	return EncodeFrame(itoa(typeRequestAccount), strconv.FormatInt(corrID, 10), accountID)
}

// EncodeRequestPositions requests a positions snapshot.
func EncodeRequestPositions(corrID int64) []byte {
	return EncodeFrame(itoa(typeRequestPositions), strconv.FormatInt(corrID, 10))
}

// EncodePing emits a session liveness probe.
func EncodePing() []byte {
	return EncodeFrame(itoa(typePing))
}

func itoa(code int) string { return strconv.Itoa(code) }
