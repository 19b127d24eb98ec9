// Package inbound defines the inbound port interfaces of the server core.
// Inbound adapters (the HTTP/1.1 engine, the admin listener) implement them.
package inbound

import (
	"context"
)

// Transport is a listener that serves until its context ends.
type Transport interface {
	// Start binds and serves.
	// Blocks until context is cancelled or an error occurs.
	// Returns nil on graceful shutdown, error on failure.
	Start(ctx context.Context) error

	// Close shuts the transport down and releases its listener.
	Close() error
}
