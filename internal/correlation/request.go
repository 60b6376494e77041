package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/halyard-io/halyard/errs"
)

// Request is a one-shot request/response entry. Inbound handlers append rows
// to the result buffer and eventually settle the completion handle; the
// handle settles exactly once no matter how many parties race to end the
// request.
type Request struct {
	Entry

	mu      sync.Mutex
	buffer  []any
	settled bool
	value   any
	err     error
	done    chan struct{}
}

// RequestTable is the registry of in-flight one-shot requests.
type RequestTable struct {
	reg *Registry[*Request]
}

// NewRequestTable constructs an empty request table.
func NewRequestTable() *RequestTable {
	return &RequestTable{
		reg: NewRegistry(func(r *Request) Entry { return r.Entry }),
	}
}

// Register creates a request with a fresh completion handle and an empty
// result buffer, enforcing both uniqueness constraints atomically.
func (t *RequestTable) Register(id ID, name string, send, cancel Action) (*Request, error) {
	req := &Request{
		Entry: Entry{ID: id, Name: name, Send: send, Cancel: cancel},
		done:  make(chan struct{}),
	}
	if err := t.reg.Register(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ByID returns the live request for the id.
func (t *RequestTable) ByID(id ID) (*Request, bool) { return t.reg.ByID(id) }

// ByName returns the live request for the name.
func (t *RequestTable) ByName(name string) (*Request, bool) { return t.reg.ByName(name) }

// RemoveByID deletes the request without settling it.
func (t *RequestTable) RemoveByID(id ID) (*Request, bool) { return t.reg.RemoveByID(id) }

// RemoveByName deletes the request without settling it.
func (t *RequestTable) RemoveByName(name string) (*Request, bool) { return t.reg.RemoveByName(name) }

// All returns a snapshot of the in-flight requests.
func (t *RequestTable) All() []*Request { return t.reg.All() }

// Len reports the number of in-flight requests.
func (t *RequestTable) Len() int { return t.reg.Len() }

// Append accumulates one result row on the request.
func (r *Request) Append(v any) {
	r.mu.Lock()
	if !r.settled {
		r.buffer = append(r.buffer, v)
	}
	r.mu.Unlock()
}

// Results returns the accumulated rows.
func (r *Request) Results() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.buffer))
	copy(out, r.buffer)
	return out
}

// Complete settles the handle exactly once and reports whether this call won
// the race. A nil value with a nil error settles with the accumulated buffer.
func (r *Request) Complete(value any, err error) bool {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return false
	}
	r.settled = true
	if value == nil && err == nil {
		rows := make([]any, len(r.buffer))
		copy(rows, r.buffer)
		value = rows
	}
	r.value = value
	r.err = err
	r.mu.Unlock()
	close(r.done)
	return true
}

// Done exposes the completion handle for select-based waiters.
func (r *Request) Done() <-chan struct{} { return r.done }

// Await blocks until the request settles, the timeout elapses, or the context
// ends. Timeout and cancellation do not settle the handle; the caller decides
// how to end the request.
func (r *Request) Await(ctx context.Context, timeout time.Duration) (any, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.value, r.err
	case <-timer:
		return nil, errs.Timeout("", "request "+r.Name+" expired")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
