// Package tunnel exposes a local service on a remote SSH gateway, the
// equivalent of `ssh -R`.  Connections arriving at the gateway are
// delivered through an ordinary net.Listener, so the accept loop does
// not need to know whether a client came in locally or over SSH.
package tunnel

import (
	"context"
	"net"
)

// Gateway abstracts an SSH connection able to listen on the remote side.
type Gateway interface {
	// Connect establishes the SSH session.
	Connect(ctx context.Context) error

	// Listen requests a remote port forward and returns a listener
	// yielding the forwarded connections.
	Listen(bindAddr string, port int) (net.Listener, error)

	// Close tears down the session and every forward.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}
