package wire

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/halyard-io/halyard/errs"
)

func payload(frame []byte) []byte { return frame[HeaderLen:] }

func TestDecodeTick(t *testing.T) {
	frame := EncodeTick(42,
		decimal.RequireFromString("101.25"), decimal.RequireFromString("300"),
		decimal.RequireFromString("101.50"), decimal.RequireFromString("200"))

	msg, err := Decode(payload(frame))
	if err != nil {
		t.Fatalf("decode tick: %v", err)
	}
	tick, ok := msg.(Tick)
	if !ok {
		t.Fatalf("expected Tick, got %T", msg)
	}
	if tick.CorrelationID != 42 {
		t.Fatalf("unexpected correlation id %d", tick.CorrelationID)
	}
	if !tick.BidPrice.Equal(decimal.RequireFromString("101.25")) {
		t.Fatalf("unexpected bid price %s", tick.BidPrice)
	}
	if !tick.AskSize.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected ask size %s", tick.AskSize)
	}
}

func TestDecodeErrorFrameWithSentinelID(t *testing.T) {
	msg, err := Decode(payload(EncodeErrorFrame(NoCorrelationID, 1101, "connectivity restored")))
	if err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	ef, ok := msg.(ErrorFrame)
	if !ok {
		t.Fatalf("expected ErrorFrame, got %T", msg)
	}
	if ef.CorrelationID != NoCorrelationID || ef.Code != 1101 {
		t.Fatalf("unexpected error frame %+v", ef)
	}
}

func TestDecodeHistorysliceCarriesBar(t *testing.T) {
	start := time.Date(2026, 8, 27, 13, 30, 0, 0, time.UTC)
	frame := EncodeHistorySlice(Bar{
		CorrelationID: 7,
		Start:         start,
		Open:          decimal.RequireFromString("10"),
		High:          decimal.RequireFromString("12"),
		Low:           decimal.RequireFromString("9.5"),
		Close:         decimal.RequireFromString("11"),
		Volume:        decimal.RequireFromString("1500"),
	})
	msg, err := Decode(payload(frame))
	if err != nil {
		t.Fatalf("decode history slice: %v", err)
	}
	slice, ok := msg.(HistorySlice)
	if !ok {
		t.Fatalf("expected HistorySlice, got %T", msg)
	}
	if !slice.Bar.Start.Equal(start) {
		t.Fatalf("unexpected bar start %s", slice.Bar.Start)
	}
	if !slice.Bar.Close.Equal(decimal.RequireFromString("11")) {
		t.Fatalf("unexpected close %s", slice.Bar.Close)
	}
}

func TestDecodeManagedAccounts(t *testing.T) {
	msg, err := Decode(payload(EncodeManagedAccounts("DU12345", "DU67890")))
	if err != nil {
		t.Fatalf("decode managed accounts: %v", err)
	}
	accounts, ok := msg.(ManagedAccounts)
	if !ok {
		t.Fatalf("expected ManagedAccounts, got %T", msg)
	}
	if len(accounts.Accounts) != 2 || accounts.Accounts[0] != "DU12345" {
		t.Fatalf("unexpected accounts %v", accounts.Accounts)
	}
}

func TestDecodeRejectsManagedAccountsCountOutOfRange(t *testing.T) {
	// A hostile count must surface as a protocol error, never reach the
	// slice allocation.
	for _, count := range []string{"-1", "3", "1000000000000"} {
		_, err := Decode(payload(EncodeFrame("115", count, "DU12345")))
		if err == nil {
			t.Fatalf("count %s: expected decode failure", count)
		}
		if !errors.Is(err, errs.New("", errs.CodeProtocol)) {
			t.Fatalf("count %s: expected protocol error, got %v", count, err)
		}
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode(payload(EncodeFrame("9999", "1")))
	if err == nil {
		t.Fatalf("expected decode failure for unknown type")
	}
	if !errors.Is(err, errs.New("", errs.CodeProtocol)) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode(payload(EncodeFrame("121", "42", "101.25")))
	if err == nil {
		t.Fatalf("expected decode failure for truncated tick")
	}
}

func TestDecodeRejectsMalformedDecimal(t *testing.T) {
	_, err := Decode(payload(EncodeFrame("121", "42", "not-a-price", "1", "2", "3")))
	if err == nil {
		t.Fatalf("expected decode failure for malformed decimal")
	}
}
