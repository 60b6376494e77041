package correlation

import "sync"

// Subscription is a long-lived publish/subscribe entry. It caches the last
// value seen so late joiners and reconnect paths can observe current state.
// Subscriptions are removed only by caller intent, never by disconnects.
type Subscription struct {
	Entry

	mu   sync.Mutex
	last any
}

// SubscriptionTable is the registry of live subscriptions.
type SubscriptionTable struct {
	reg *Registry[*Subscription]
}

// NewSubscriptionTable constructs an empty subscription table.
func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{
		reg: NewRegistry(func(s *Subscription) Entry { return s.Entry }),
	}
}

// Register creates a subscription with an empty last-value cache.
func (t *SubscriptionTable) Register(id ID, name string, send, cancel Action) (*Subscription, error) {
	sub := &Subscription{
		Entry: Entry{ID: id, Name: name, Send: send, Cancel: cancel},
	}
	if err := t.reg.Register(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ByID returns the live subscription for the id.
func (t *SubscriptionTable) ByID(id ID) (*Subscription, bool) { return t.reg.ByID(id) }

// ByName returns the live subscription for the name.
func (t *SubscriptionTable) ByName(name string) (*Subscription, bool) { return t.reg.ByName(name) }

// RemoveByID deletes the subscription.
func (t *SubscriptionTable) RemoveByID(id ID) (*Subscription, bool) { return t.reg.RemoveByID(id) }

// RemoveByName deletes the subscription.
func (t *SubscriptionTable) RemoveByName(name string) (*Subscription, bool) {
	return t.reg.RemoveByName(name)
}

// All returns a snapshot of the live subscriptions.
func (t *SubscriptionTable) All() []*Subscription { return t.reg.All() }

// Len reports the number of live subscriptions.
func (t *SubscriptionTable) Len() int { return t.reg.Len() }

// UpdateLast replaces the cached last value. It has no effect on the send or
// cancel actions.
func (s *Subscription) UpdateLast(v any) {
	s.mu.Lock()
	s.last = v
	s.mu.Unlock()
}

// Last returns the cached last value, nil when nothing has arrived yet.
func (s *Subscription) Last() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
