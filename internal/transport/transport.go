// Package transport provides the socket transports a gateway session runs over.
package transport

import (
	"context"
)

// Transport is a single persistent byte-stream connection to the venue
// gateway. Implementations are safe for one concurrent reader and one
// concurrent writer; Dial may be called again after Close to establish a
// fresh connection.
type Transport interface {
	// Dial establishes the connection. It replaces any previous connection.
	Dial(ctx context.Context) error
	// Read blocks until bytes arrive or the connection fails.
	Read(p []byte) (int, error)
	// Write sends bytes, honouring the context deadline.
	Write(ctx context.Context, p []byte) error
	// Close tears down the current connection. Safe to call repeatedly.
	Close() error
	// Connected reports whether a connection is currently established.
	Connected() bool
}
