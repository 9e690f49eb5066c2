// Package transport provides the listening side of the server.  A
// Listener decides where clients come from (a local TCP port or a
// port forwarded from an SSH gateway) independent of what happens over
// each connection, which is the capability layer's job.
package transport

import (
	"context"
	"net"
)

// Listener opens the socket the accept loop reads from.
type Listener interface {
	// Listen binds and returns a ready net.Listener.
	Listen(ctx context.Context) (net.Listener, error)

	// Close releases long-lived resources held by the listener (e.g. an
	// SSH session).  The net.Listener returned by Listen is closed by
	// its caller; stateless listeners return nil.
	Close() error
}
