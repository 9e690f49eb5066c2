package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultHost is the address the server binds to.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the TCP port the server binds to.
	DefaultPort = 8080

	// DefaultDelay is the simulated processing time per line.
	DefaultDelay = 150 * time.Millisecond

	// DefaultHeartbeat is the interval between liveness log entries.
	DefaultHeartbeat = 10 * time.Second

	// DefaultMaxConns caps concurrently served connections.  Further
	// clients wait in the kernel accept queue.
	DefaultMaxConns = 1024

	// DefaultMaxLineLength is the longest accepted request line,
	// terminator excluded.
	DefaultMaxLineLength = 64 * 1024

	// DefaultGracePeriod is how long shutdown waits for handlers to
	// finish before closing their connections.
	DefaultGracePeriod = 5 * time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultRemoteBindAddress is the gateway-side bind address for -R.
	// Empty lets the gateway decide (usually loopback only).
	DefaultRemoteBindAddress = ""

	// DefaultKeepAliveInterval is the SSH keepalive interval.
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultConnTimeout is the SSH dial and handshake timeout.
	DefaultConnTimeout = 30 * time.Second
)
