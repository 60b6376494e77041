package gateway

import (
	"context"
	"time"

	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/correlation"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/schema"
	"github.com/halyard-io/halyard/internal/telemetry"
	"github.com/halyard-io/halyard/internal/wire"
)

// Venue status and error codes partitioned by handling. The sets are disjoint
// so a code maps to exactly one behaviour.
var (
	connectivityLostCodes     = map[int]struct{}{1100: {}, 2110: {}}
	connectivityRestoredCodes = map[int]struct{}{1101: {}, 1102: {}}
	sessionEndingCodes        = map[int]struct{}{1300: {}}
	warningCodes              = map[int]struct{}{2104: {}, 2106: {}, 2107: {}, 2108: {}, 2119: {}, 2158: {}}
	clientErrorCodes          = map[int]struct{}{320: {}, 321: {}, 502: {}, 504: {}}

	alreadySubscribedCodes = map[int]struct{}{10090: {}}
	noPermissionCodes      = map[int]struct{}{354: {}, 10167: {}}

	orderRejectedCodes  = map[int]struct{}{201: {}}
	orderCancelledCodes = map[int]struct{}{202: {}}
)

// errorRouter classifies inbound error frames and delivers each to exactly
// one destination. Classification checks the session sentinel first, then the
// subscription table, the request table and the pending-order refs, in that
// order.
type errorRouter struct {
	venue   string
	log     observability.Logger
	metrics *telemetry.SessionMetrics

	requests *correlation.RequestTable
	subs     *correlation.SubscriptionTable
	orders   *orderTable
	ready    *readyFlag

	resubscribe func(ctx context.Context, sub *correlation.Subscription)
	orderStatus func(ctx context.Context, payload schema.OrderStatusPayload)
}

func (r *errorRouter) route(ctx context.Context, ef wire.ErrorFrame) {
	if ef.CorrelationID == wire.NoCorrelationID {
		r.routeSession(ctx, ef)
		return
	}
	id := correlation.ID(ef.CorrelationID)
	if sub, ok := r.subs.ByID(id); ok {
		r.routeSubscription(ctx, sub, ef)
		return
	}
	if req, ok := r.requests.ByID(id); ok {
		r.routeRequest(ctx, req, ef)
		return
	}
	if ref, ok := r.orders.ref(ef.CorrelationID); ok {
		r.routeOrder(ctx, ef, ref)
		return
	}
	r.metrics.ErrorRouted(ctx, "unhandled")
	r.log.Warn("venue error for unknown correlation id",
		observability.F("venue", r.venue),
		observability.F("correlation_id", ef.CorrelationID),
		observability.F("code", ef.Code),
		observability.F("text", ef.Text))
}

// routeSession handles codes addressed to the session itself rather than any
// one operation.
func (r *errorRouter) routeSession(ctx context.Context, ef wire.ErrorFrame) {
	r.metrics.ErrorRouted(ctx, "session")
	switch {
	case member(connectivityLostCodes, ef.Code):
		r.ready.Clear()
		r.log.Warn("gateway reports connectivity lost",
			observability.F("venue", r.venue),
			observability.F("code", ef.Code),
			observability.F("text", ef.Text))
	case member(connectivityRestoredCodes, ef.Code):
		// Set only transitions when the flag is down, so a restored notice
		// arriving on an already-ready session changes nothing.
		if r.ready.Set() {
			r.log.Info("gateway reports connectivity restored",
				observability.F("venue", r.venue),
				observability.F("code", ef.Code))
		}
	case member(sessionEndingCodes, ef.Code):
		r.ready.Clear()
		r.log.Warn("gateway announced session end",
			observability.F("venue", r.venue),
			observability.F("code", ef.Code),
			observability.F("text", ef.Text))
	case member(warningCodes, ef.Code):
		r.log.Info("gateway status notice",
			observability.F("venue", r.venue),
			observability.F("code", ef.Code),
			observability.F("text", ef.Text))
	case member(clientErrorCodes, ef.Code):
		r.log.Warn("gateway rejected client traffic",
			observability.F("venue", r.venue),
			observability.F("code", ef.Code),
			observability.F("text", ef.Text))
	default:
		r.log.Warn("unclassified session code",
			observability.F("venue", r.venue),
			observability.F("code", ef.Code),
			observability.F("text", ef.Text))
	}
}

// routeSubscription handles codes tied to a live subscription. The entry
// survives in every branch; only caller intent removes subscriptions.
func (r *errorRouter) routeSubscription(ctx context.Context, sub *correlation.Subscription, ef wire.ErrorFrame) {
	r.metrics.ErrorRouted(ctx, "subscription")
	switch {
	case member(alreadySubscribedCodes, ef.Code):
		r.log.Warn("venue reports duplicate subscription, replaying",
			observability.F("name", sub.Name),
			observability.F("code", ef.Code))
		r.resubscribe(ctx, sub)
	case member(noPermissionCodes, ef.Code):
		r.log.Error("no market data permissions for subscription",
			observability.F("name", sub.Name),
			observability.F("code", ef.Code),
			observability.F("text", ef.Text))
	case member(sessionEndingCodes, ef.Code):
		// Session-end may arrive addressed to any live stream; readiness
		// drops either way.
		r.ready.Clear()
		r.log.Warn("gateway announced session end on subscription",
			observability.F("name", sub.Name),
			observability.F("code", ef.Code),
			observability.F("text", ef.Text))
	default:
		r.log.Warn("venue error on subscription",
			observability.F("name", sub.Name),
			observability.F("code", ef.Code),
			observability.F("text", ef.Text))
	}
}

// routeRequest fails the in-flight request and removes its entry, releasing
// the id and name for reuse.
func (r *errorRouter) routeRequest(ctx context.Context, req *correlation.Request, ef wire.ErrorFrame) {
	r.metrics.ErrorRouted(ctx, "request")
	req.Complete(nil, errs.New(r.venue, errs.CodeVenue,
		errs.WithCorrelationID(ef.CorrelationID),
		errs.WithVenueCode(ef.Code),
		errs.WithRawMessage(ef.Text),
		errs.WithMessage("request "+req.Name+" failed")))
	r.requests.RemoveByID(req.ID)
}

// routeOrder converts an order-scoped error into a status callback for the
// submitting account. The pending-order ref stays; late status for the same
// order must still resolve.
func (r *errorRouter) routeOrder(ctx context.Context, ef wire.ErrorFrame, ref OrderRef) {
	r.metrics.ErrorRouted(ctx, "order")
	outcome := schema.OrderUnknown
	switch {
	case member(orderRejectedCodes, ef.Code):
		outcome = schema.OrderRejected
	case member(orderCancelledCodes, ef.Code):
		outcome = schema.OrderCancelled
	}
	r.orderStatus(ctx, schema.OrderStatusPayload{
		AccountID:     ref.AccountID,
		ClientOrderID: ref.ClientOrderID,
		VenueOrderID:  ef.CorrelationID,
		Outcome:       outcome,
		Reason:        ef.Text,
		TS:            time.Now().UTC(),
	})
}

func member(set map[int]struct{}, code int) bool {
	_, ok := set[code]
	return ok
}
