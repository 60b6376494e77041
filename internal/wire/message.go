package wire

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/halyard-io/halyard/errs"
)

// Message type codes. Outbound codes are written by the client, inbound codes
// arrive from the gateway; the two sets share one numeric space.
const (
	typeStartSession     = 71
	typeSubscribeMktData = 1
	typeCancelMktData    = 2
	typePlaceOrder       = 3
	typeCancelOrder      = 4
	typeSubscribeDepth   = 10
	typeCancelDepth      = 11
	typeRequestHistory   = 20
	typeCancelHistory    = 21
	typeRequestAccount   = 6
	typeRequestPositions = 61
	typePing             = 8

	typeError           = 104
	typeSessionReady    = 109
	typeManagedAccounts = 115
	typeTick            = 121
	typeTradePrint      = 122
	typeBar             = 123
	typeDepth           = 124
	typeHistorySlice    = 125
	typeHistoryEnd      = 126
	typeOrderStatus     = 127
	typeAccountValue    = 128
	typeAccountEnd      = 129
	typePosition        = 130
	typePositionEnd     = 131
	typePong            = 132
)

// NoCorrelationID is the sentinel the gateway uses on error frames that do not
// refer to any in-flight correlation id.
const NoCorrelationID int64 = -1

// Message is the closed set of decoded inbound gateway messages.
type Message interface {
	message()
}

// SessionReady announces application-level readiness and the first usable
// venue order id.
type SessionReady struct {
	NextOrderID int64
}

// ManagedAccounts lists the account ids reachable through this session.
type ManagedAccounts struct {
	Accounts []string
}

// ErrorFrame carries a venue error or status code tied to a correlation id,
// or to the session when CorrelationID equals NoCorrelationID.
type ErrorFrame struct {
	CorrelationID int64
	Code          int
	Text          string
}

// Tick is a top-of-book quote update for a subscription.
type Tick struct {
	CorrelationID int64
	BidPrice      decimal.Decimal
	BidSize       decimal.Decimal
	AskPrice      decimal.Decimal
	AskSize       decimal.Decimal
}

// TradePrint is a last-trade report for a subscription.
type TradePrint struct {
	CorrelationID int64
	Price         decimal.Decimal
	Size          decimal.Decimal
	TS            time.Time
}

// Bar is an aggregated OHLCV bar for a subscription.
type Bar struct {
	CorrelationID int64
	Start         time.Time
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	Volume        decimal.Decimal
}

// Depth is a single order-book level update for a subscription.
type Depth struct {
	CorrelationID int64
	Side          string
	Position      int
	Price         decimal.Decimal
	Size          decimal.Decimal
}

// HistorySlice is one row of a historical data reply.
type HistorySlice struct {
	CorrelationID int64
	Bar           Bar
}

// HistoryEnd terminates a historical data reply.
type HistoryEnd struct {
	CorrelationID int64
}

// OrderStatus reports an order lifecycle transition.
type OrderStatus struct {
	OrderID      int64
	Status       string
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	AvgFillPrice decimal.Decimal
}

// AccountValue reports a single account metric.
type AccountValue struct {
	AccountID string
	Key       string
	Value     decimal.Decimal
	Currency  string
}

// AccountEnd terminates an account snapshot.
type AccountEnd struct {
	AccountID string
}

// Position reports one position row.
type Position struct {
	AccountID string
	Symbol    string
	Quantity  decimal.Decimal
	AvgCost   decimal.Decimal
}

// PositionEnd terminates a positions reply.
type PositionEnd struct{}

// Pong answers a client ping.
type Pong struct{}

func (SessionReady) message()    {}
func (ManagedAccounts) message() {}
func (ErrorFrame) message()      {}
func (Tick) message()            {}
func (TradePrint) message()      {}
func (Bar) message()             {}
func (Depth) message()           {}
func (HistorySlice) message()    {}
func (HistoryEnd) message()      {}
func (OrderStatus) message()     {}
func (AccountValue) message()    {}
func (AccountEnd) message()      {}
func (Position) message()        {}
func (PositionEnd) message()     {}
func (Pong) message()            {}

// Decode parses a complete frame payload into one of the tagged message
// variants. Decoding is synchronous and side-effect-free.
func Decode(frame []byte) (Message, error) {
	fields := Fields(frame)
	if len(fields) == 0 {
		return nil, errs.New("", errs.CodeProtocol, errs.WithMessage("empty frame"))
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, errs.New("", errs.CodeProtocol, errs.WithMessage("non-numeric message type"), errs.WithCause(err))
	}
	d := fieldReader{fields: fields[1:]}

	switch code {
	case typeSessionReady:
		return SessionReady{NextOrderID: d.int64()}, d.finish(code)
	case typeManagedAccounts:
		n := d.int()
		// The remaining fields bound the real count; anything outside that
		// range is a malformed frame, never an allocation size.
		if d.err == nil && (n < 0 || n > len(d.fields)-d.pos) {
			d.err = errs.New("", errs.CodeProtocol,
				errs.WithMessage("account count "+strconv.Itoa(n)+" out of range"))
		}
		if d.err != nil {
			return ManagedAccounts{}, d.finish(code)
		}
		accounts := make([]string, 0, n)
		for i := 0; i < n; i++ {
			accounts = append(accounts, d.str())
		}
		return ManagedAccounts{Accounts: accounts}, d.finish(code)
	case typeError:
		return ErrorFrame{CorrelationID: d.int64(), Code: d.int(), Text: d.str()}, d.finish(code)
	case typeTick:
		return Tick{
			CorrelationID: d.int64(),
			BidPrice:      d.decimal(),
			BidSize:       d.decimal(),
			AskPrice:      d.decimal(),
			AskSize:       d.decimal(),
		}, d.finish(code)
	case typeTradePrint:
		return TradePrint{
			CorrelationID: d.int64(),
			Price:         d.decimal(),
			Size:          d.decimal(),
			TS:            d.unix(),
		}, d.finish(code)
	case typeBar:
		return decodeBar(&d, code)
	case typeDepth:
		return Depth{
			CorrelationID: d.int64(),
			Side:          d.str(),
			Position:      d.int(),
			Price:         d.decimal(),
			Size:          d.decimal(),
		}, d.finish(code)
	case typeHistorySlice:
		id := d.int64()
		bar := Bar{
			CorrelationID: id,
			Start:         d.unix(),
			Open:          d.decimal(),
			High:          d.decimal(),
			Low:           d.decimal(),
			Close:         d.decimal(),
			Volume:        d.decimal(),
		}
		return HistorySlice{CorrelationID: id, Bar: bar}, d.finish(code)
	case typeHistoryEnd:
		return HistoryEnd{CorrelationID: d.int64()}, d.finish(code)
	case typeOrderStatus:
		return OrderStatus{
			OrderID:      d.int64(),
			Status:       d.str(),
			Filled:       d.decimal(),
			Remaining:    d.decimal(),
			AvgFillPrice: d.decimal(),
		}, d.finish(code)
	case typeAccountValue:
		return AccountValue{AccountID: d.str(), Key: d.str(), Value: d.decimal(), Currency: d.str()}, d.finish(code)
	case typeAccountEnd:
		return AccountEnd{AccountID: d.str()}, d.finish(code)
	case typePosition:
		return Position{AccountID: d.str(), Symbol: d.str(), Quantity: d.decimal(), AvgCost: d.decimal()}, d.finish(code)
	case typePositionEnd:
		return PositionEnd{}, d.finish(code)
	case typePong:
		return Pong{}, nil
	default:
		return nil, errs.New("", errs.CodeProtocol,
			errs.WithMessage("unknown message type "+fields[0]))
	}
}

func decodeBar(d *fieldReader, code int) (Message, error) {
	bar := Bar{
		CorrelationID: d.int64(),
		Start:         d.unix(),
		Open:          d.decimal(),
		High:          d.decimal(),
		Low:           d.decimal(),
		Close:         d.decimal(),
		Volume:        d.decimal(),
	}
	return bar, d.finish(code)
}

// fieldReader walks frame fields left to right, remembering the first failure.
type fieldReader struct {
	fields []string
	pos    int
	err    error
}

func (d *fieldReader) next() string {
	if d.err != nil {
		return ""
	}
	if d.pos >= len(d.fields) {
		d.err = errs.New("", errs.CodeProtocol, errs.WithMessage("frame truncated"))
		return ""
	}
	f := d.fields[d.pos]
	d.pos++
	return f
}

func (d *fieldReader) str() string { return d.next() }

func (d *fieldReader) int() int {
	f := d.next()
	if d.err != nil {
		return 0
	}
	v, err := strconv.Atoi(f)
	if err != nil {
		d.err = errs.New("", errs.CodeProtocol, errs.WithMessage("malformed integer field"), errs.WithCause(err))
	}
	return v
}

func (d *fieldReader) int64() int64 {
	f := d.next()
	if d.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(f, 10, 64)
	if err != nil {
		d.err = errs.New("", errs.CodeProtocol, errs.WithMessage("malformed integer field"), errs.WithCause(err))
	}
	return v
}

func (d *fieldReader) decimal() decimal.Decimal {
	f := d.next()
	if d.err != nil {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(f)
	if err != nil {
		d.err = errs.New("", errs.CodeProtocol, errs.WithMessage("malformed decimal field"), errs.WithCause(err))
		return decimal.Zero
	}
	return v
}

func (d *fieldReader) unix() time.Time {
	secs := d.int64()
	if d.err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func (d *fieldReader) finish(code int) error {
	if d.err != nil {
		return errs.New("", errs.CodeProtocol,
			errs.WithMessage("decode message type "+strconv.Itoa(code)),
			errs.WithCause(d.err))
	}
	return nil
}
