package gateway

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/halyard-io/halyard/internal/observability"
)

// Status is a point-in-time snapshot of the client, served by the status
// endpoint and useful in logs.
type Status struct {
	Venue          string    `json:"venue"`
	State          string    `json:"state"`
	Ready          bool      `json:"ready"`
	ServerVersion  int       `json:"server_version"`
	Accounts       []string  `json:"accounts"`
	Requests       int       `json:"requests"`
	Subscriptions  int       `json:"subscriptions"`
	PendingOrders  int       `json:"pending_orders"`
	Reconnects     int64     `json:"reconnects"`
	LastDisconnect time.Time `json:"last_disconnect,omitempty"`
}

// Snapshot captures the current client state.
func (c *Client) Snapshot() Status {
	s := Status{
		Venue:         c.cfg.Venue,
		State:         c.conn.State().String(),
		Ready:         c.Ready(),
		ServerVersion: c.conn.ServerVersion(),
		Accounts:      c.Accounts(),
		Requests:      c.requests.Len(),
		Subscriptions: c.subs.Len(),
		PendingOrders: c.orders.pending(),
		Reconnects:    c.reconnects.Load(),
	}
	if nanos := c.lastDrop.Load(); nanos > 0 {
		s.LastDisconnect = time.Unix(0, nanos).UTC()
	}
	return s
}

// StatusHandler serves the client snapshot as JSON on GET.
func StatusHandler(c *Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Snapshot()); err != nil {
			observability.Log().Warn("status encode failed",
				observability.F("error", err))
		}
	})
}
