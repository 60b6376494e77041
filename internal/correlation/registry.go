// Package correlation maintains the bidirectional tables tying numeric
// correlation ids to the logical operations multiplexed over one gateway
// session.
package correlation

import (
	"context"
	"errors"
	"sync"

	"github.com/halyard-io/halyard/errs"
)

// ID is a client-issued correlation id, unique while its entry is live.
type ID int64

// Action is a send or cancel primitive bound to a registry entry.
type Action func(ctx context.Context) error

// Entry is the identity shared by every registry value: one id, one name,
// and the actions that drive the operation on the wire.
type Entry struct {
	ID     ID
	Name   string
	Send   Action
	Cancel Action
}

// Sentinel causes wrapped into the errs envelopes returned by registries.
var (
	ErrDuplicateID   = errors.New("correlation: duplicate id")
	ErrDuplicateName = errors.New("correlation: duplicate name")
	ErrNotFound      = errors.New("correlation: not found")
)

// Registry is a bidirectional id<->name table. Both uniqueness constraints
// are checked before any mutation, so a failed Register leaves no trace.
type Registry[T any] struct {
	mu     sync.Mutex
	byID   map[ID]T
	byName map[string]ID
	ident  func(T) Entry
}

// NewRegistry constructs a registry using ident to extract entry identity.
func NewRegistry[T any](ident func(T) Entry) *Registry[T] {
	return &Registry[T]{
		byID:   make(map[ID]T),
		byName: make(map[string]ID),
		ident:  ident,
	}
}

// Register inserts the value, failing on either duplicate constraint.
func (r *Registry[T]) Register(v T) error {
	e := r.ident(v)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[e.ID]; exists {
		return errs.New("", errs.CodeDuplicate,
			errs.WithCorrelationID(int64(e.ID)),
			errs.WithMessage("id already registered for "+r.byNameOfLocked(e.ID)),
			errs.WithCause(ErrDuplicateID))
	}
	if _, exists := r.byName[e.Name]; exists {
		return errs.New("", errs.CodeDuplicate,
			errs.WithMessage("name "+e.Name+" already registered"),
			errs.WithCause(ErrDuplicateName))
	}
	r.byID[e.ID] = v
	r.byName[e.Name] = e.ID
	return nil
}

func (r *Registry[T]) byNameOfLocked(id ID) string {
	if v, ok := r.byID[id]; ok {
		return r.ident(v).Name
	}
	return ""
}

// ByID returns the live value for the id.
func (r *Registry[T]) ByID(id ID) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	return v, ok
}

// ByName resolves the name to its id and returns the live value.
func (r *Registry[T]) ByName(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := r.byID[id]
	return v, ok
}

// RemoveByID deletes the entry, returning the removed value.
func (r *Registry[T]) RemoveByID(id ID) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	delete(r.byID, id)
	delete(r.byName, r.ident(v).Name)
	return v, true
}

// RemoveByName deletes the entry, returning the removed value.
func (r *Registry[T]) RemoveByName(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	if !ok {
		var zero T
		return zero, false
	}
	v := r.byID[id]
	delete(r.byID, id)
	delete(r.byName, name)
	return v, true
}

// All returns a snapshot of every live value.
func (r *Registry[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, v)
	}
	return out
}

// Len reports the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
