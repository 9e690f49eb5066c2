package util

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsClosedConn reports whether err is the ordinary result of a peer
// going away or of our own side closing the socket.  Such errors end a
// session but are logged at info level rather than as warnings.
func IsClosedConn(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.Is(opErr.Err, net.ErrClosed) {
		return true
	}
	return false
}

// IsPeerReset reports whether err is a connection reset or broken pipe,
// which is what an abruptly dropped client usually produces.
func IsPeerReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
