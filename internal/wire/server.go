package wire

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Server-side frame builders. The production client never sends these; they
// exist for venue simulators and session tests that need to speak the
// gateway's half of the protocol.

// EncodeSessionReady announces readiness and the first usable order id.
func EncodeSessionReady(nextOrderID int64) []byte {
	return EncodeFrame(itoa(typeSessionReady), strconv.FormatInt(nextOrderID, 10))
}

// EncodeManagedAccounts lists the session's account ids.
func EncodeManagedAccounts(accounts ...string) []byte {
	fields := make([]string, 0, len(accounts)+2)
	fields = append(fields, itoa(typeManagedAccounts), strconv.Itoa(len(accounts)))
	fields = append(fields, accounts...)
	return EncodeFrame(fields...)
}

// EncodeErrorFrame builds a venue error/status frame.
func EncodeErrorFrame(corrID int64, code int, text string) []byte {
	return EncodeFrame(itoa(typeError), strconv.FormatInt(corrID, 10), strconv.Itoa(code), text)
}

// EncodeTick builds a top-of-book update.
func EncodeTick(corrID int64, bidPx, bidSz, askPx, askSz decimal.Decimal) []byte {
	return EncodeFrame(itoa(typeTick), strconv.FormatInt(corrID, 10),
		bidPx.String(), bidSz.String(), askPx.String(), askSz.String())
}

// EncodeTradePrint builds a last-trade report.
func EncodeTradePrint(corrID int64, price, size decimal.Decimal, ts time.Time) []byte {
	return EncodeFrame(itoa(typeTradePrint), strconv.FormatInt(corrID, 10),
		price.String(), size.String(), strconv.FormatInt(ts.Unix(), 10))
}

// EncodeBar builds an OHLCV bar update.
func EncodeBar(b Bar) []byte {
	return EncodeFrame(itoa(typeBar), strconv.FormatInt(b.CorrelationID, 10),
		strconv.FormatInt(b.Start.Unix(), 10),
		b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String())
}

// EncodeDepth builds an order-book level update.
func EncodeDepth(d Depth) []byte {
	return EncodeFrame(itoa(typeDepth), strconv.FormatInt(d.CorrelationID, 10),
		d.Side, strconv.Itoa(d.Position), d.Price.String(), d.Size.String())
}

// EncodeHistorySlice builds one historical bar row.
func EncodeHistorySlice(b Bar) []byte {
	return EncodeFrame(itoa(typeHistorySlice), strconv.FormatInt(b.CorrelationID, 10),
		strconv.FormatInt(b.Start.Unix(), 10),
		b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String())
}

// EncodeHistoryEnd terminates a historical reply.
func EncodeHistoryEnd(corrID int64) []byte {
	return EncodeFrame(itoa(typeHistoryEnd), strconv.FormatInt(corrID, 10))
}

// EncodeOrderStatus builds an order lifecycle report.
func EncodeOrderStatus(s OrderStatus) []byte {
	return EncodeFrame(itoa(typeOrderStatus), strconv.FormatInt(s.OrderID, 10),
		s.Status, s.Filled.String(), s.Remaining.String(), s.AvgFillPrice.String())
}

// EncodeAccountValue builds an account metric update.
func EncodeAccountValue(v AccountValue) []byte {
	return EncodeFrame(itoa(typeAccountValue), v.AccountID, v.Key, v.Value.String(), v.Currency)
}

// EncodeAccountEnd terminates an account snapshot.
func EncodeAccountEnd(accountID string) []byte {
	return EncodeFrame(itoa(typeAccountEnd), accountID)
}

// EncodePosition builds a position row.
func EncodePosition(p Position) []byte {
	return EncodeFrame(itoa(typePosition), p.AccountID, p.Symbol, p.Quantity.String(), p.AvgCost.String())
}

// EncodePositionEnd terminates a positions reply.
func EncodePositionEnd() []byte {
	return EncodeFrame(itoa(typePositionEnd))
}

// EncodePong answers a ping.
func EncodePong() []byte {
	return EncodeFrame(itoa(typePong))
}

// EncodeHandshakeReply builds the gateway's negotiation response.
func EncodeHandshakeReply(serverVersion int, sessionTime string) []byte {
	return EncodeFrame(strconv.Itoa(serverVersion), sessionTime)
}
