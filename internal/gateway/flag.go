package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/halyard-io/halyard/errs"
)

// readyFlag is a settable boolean with broadcast semantics: waiters block
// until the flag transitions to set. The protocol-ready and client-ready
// signals both use it.
type readyFlag struct {
	mu      sync.Mutex
	set     bool
	waiters []chan struct{}
}

// Set raises the flag, waking all waiters. It reports whether this call
// performed the transition.
func (f *readyFlag) Set() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return false
	}
	f.set = true
	for _, w := range f.waiters {
		close(w)
	}
	f.waiters = nil
	return true
}

// Clear lowers the flag.
func (f *readyFlag) Clear() {
	f.mu.Lock()
	f.set = false
	f.mu.Unlock()
}

// IsSet reports the current state.
func (f *readyFlag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Wait blocks until the flag is set, the timeout elapses, or the context
// ends.
func (f *readyFlag) Wait(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	if f.set {
		f.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-w:
		return nil
	case <-timer:
		return errs.Timeout("", "flag wait expired")
	case <-ctx.Done():
		return ctx.Err()
	}
}
