// Package capability defines what happens over an established
// connection.  Each Capability encapsulates a single behaviour and
// operates on a Session rather than a raw net.Conn, which keeps
// capabilities testable and decoupled from how the connection was
// accepted (local socket or SSH-forwarded channel).
package capability

import (
	"context"

	"capsd/internal/session"
)

// Capability handles a single connection for its whole life.
type Capability interface {
	// Handle runs the capability against the given session.  It
	// blocks until the session is over and returns the error that
	// ended it, or nil for an orderly close.  The caller owns closing
	// the session.
	Handle(ctx context.Context, sess *session.Session) error
}
