package gateway

import (
	"testing"

	"github.com/halyard-io/halyard/internal/schema"
)

func TestOrderTableTracksRefs(t *testing.T) {
	tbl := newOrderTable()
	tbl.track(5000, OrderRef{AccountID: "DU100", ClientOrderID: "c-1", Symbol: "AAPL"})
	tbl.track(5001, OrderRef{AccountID: "DU200", ClientOrderID: "c-2", Symbol: "MSFT"})

	ref, ok := tbl.ref(5000)
	if !ok || ref.AccountID != "DU100" {
		t.Fatalf("ref lookup failed: %+v %v", ref, ok)
	}
	if _, ok := tbl.ref(9999); ok {
		t.Fatalf("unknown order id resolved")
	}

	id, ref, ok := tbl.byClientOrderID("c-2")
	if !ok || id != 5001 || ref.Symbol != "MSFT" {
		t.Fatalf("reverse lookup failed: %d %+v %v", id, ref, ok)
	}

	if tbl.pending() != 2 {
		t.Fatalf("expected 2 pending refs, got %d", tbl.pending())
	}
	tbl.clear()
	if tbl.pending() != 0 {
		t.Fatalf("clear left refs behind")
	}
}

func TestOrderTableHandlerRouting(t *testing.T) {
	tbl := newOrderTable()
	called := 0
	tbl.setHandler("DU100", func(schema.OrderStatusPayload) { called++ })

	h, ok := tbl.handlerFor("DU100")
	if !ok {
		t.Fatalf("handler not found")
	}
	h(schema.OrderStatusPayload{})
	if called != 1 {
		t.Fatalf("handler not invoked")
	}
	if _, ok := tbl.handlerFor("DU200"); ok {
		t.Fatalf("unset account resolved a handler")
	}

	tbl.setHandler("DU100", nil)
	if _, ok := tbl.handlerFor("DU100"); ok {
		t.Fatalf("nil handler did not remove the routing")
	}
}

func TestOutcomeFromStatus(t *testing.T) {
	cases := map[string]schema.OrderOutcome{
		"Submitted":       schema.OrderAccepted,
		"PreSubmitted":    schema.OrderAccepted,
		"Filled":          schema.OrderFilled,
		"PartiallyFilled": schema.OrderPartiallyFilled,
		"Cancelled":       schema.OrderCancelled,
		"ApiCancelled":    schema.OrderCancelled,
		"Rejected":        schema.OrderRejected,
		"Inactive":        schema.OrderRejected,
		"SomethingNew":    schema.OrderUnknown,
	}
	for status, want := range cases {
		if got := outcomeFromStatus(status); got != want {
			t.Fatalf("status %q: expected %s, got %s", status, want, got)
		}
	}
}
