// Package core is the orchestration layer.  It composes a transport, a
// capability and the heartbeat into a running server and provides a
// builder that assembles one from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  capability  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode.  A mode owns its full lifecycle
// from binding to teardown and returns when ctx is cancelled.
type Mode interface {
	Run(ctx context.Context) error
}
