package transport

import (
	"context"
	"net"
	"syscall"
	"time"
)

// TCPListener binds a local TCP address.
type TCPListener struct {
	Address   string
	ReuseAddr bool
	ReusePort bool

	// KeepAlive is the TCP keep-alive period for accepted connections.
	// Zero uses the system default; negative disables keep-alives.
	KeepAlive time.Duration
}

// Listen binds Address, applying the requested socket options before
// bind.
func (l *TCPListener) Listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{
		KeepAlive: l.KeepAlive,
		Control:   l.control,
	}
	return lc.Listen(ctx, "tcp", l.Address)
}

// Close is a no-op for TCP listeners.
func (l *TCPListener) Close() error { return nil }

func (l *TCPListener) control(_, _ string, c syscall.RawConn) error {
	if !l.ReuseAddr && !l.ReusePort {
		return nil
	}
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = setSockopts(fd, l.ReuseAddr, l.ReusePort)
	})
	if err != nil {
		return err
	}
	return sockErr
}
