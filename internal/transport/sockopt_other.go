//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import "errors"

var errReusePortUnsupported = errors.New("SO_REUSEPORT is not supported on this platform")

// SO_REUSEADDR is left to the platform default here.
func setSockopts(_ uintptr, _, reusePort bool) error {
	if reusePort {
		return errReusePortUnsupported
	}
	return nil
}
