// Package dispatch is the boundary between the gateway client and the rest of
// the platform: decoded domain events are handed to named endpoints such as
// "DataEngine.process".
package dispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/schema"
)

// Publisher consumes canonical events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt *schema.Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, evt *schema.Event) error

// Publish invokes the function.
func (f PublisherFunc) Publish(ctx context.Context, evt *schema.Event) error {
	return f(ctx, evt)
}

// Registry maps endpoint names to publishers.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Publisher
}

// NewRegistry constructs an empty endpoint registry.
func NewRegistry() *Registry {
	r := new(Registry)
	r.endpoints = make(map[string]Publisher)
	return r
}

// Register binds an endpoint name to a publisher, replacing any previous
// binding for the name.
func (r *Registry) Register(name string, p Publisher) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("endpoint name required"))
	}
	if p == nil {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("publisher required"))
	}
	r.mu.Lock()
	r.endpoints[name] = p
	r.mu.Unlock()
	return nil
}

// Deregister removes the endpoint binding if present.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	delete(r.endpoints, name)
	r.mu.Unlock()
}

// Publish delivers the event to the named endpoint.
func (r *Registry) Publish(ctx context.Context, name string, evt *schema.Event) error {
	if evt == nil {
		return nil
	}
	if err := evt.Type.Validate(); err != nil {
		return err
	}
	r.mu.RLock()
	p, ok := r.endpoints[name]
	r.mu.RUnlock()
	if !ok {
		return errs.New("", errs.CodeNotFound, errs.WithMessage("endpoint "+name+" not registered"))
	}
	return p.Publish(ctx, evt)
}

// Names returns the registered endpoint names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		out = append(out, name)
	}
	return out
}

// Clear removes every endpoint binding. Used when a client session is torn
// down and its consumers are session-scoped.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.endpoints = make(map[string]Publisher)
	r.mu.Unlock()
}

// Channel is a buffered channel-backed endpoint for in-process consumers.
type Channel struct {
	ch chan *schema.Event
}

// NewChannel constructs a channel endpoint with the given buffer depth.
func NewChannel(depth int) *Channel {
	if depth < 1 {
		depth = 1
	}
	return &Channel{ch: make(chan *schema.Event, depth)}
}

// Publish enqueues the event, honouring context cancellation when the
// consumer lags.
func (c *Channel) Publish(ctx context.Context, evt *schema.Event) error {
	select {
	case c.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events exposes the consumer side of the endpoint.
func (c *Channel) Events() <-chan *schema.Event {
	return c.ch
}
