package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"capsd/tunnel"
	"capsd/util"
)

// SSHListener exposes the server on a remote SSH gateway.  Clients
// connect to RemoteBindAddress:RemotePort on the gateway and arrive
// here as forwarded channels.
type SSHListener struct {
	Gateway           tunnel.Gateway
	RemoteBindAddress string
	RemotePort        int

	logger    *util.Logger
	mu        sync.Mutex
	connected bool
}

// NewSSHListener creates a listener backed by an SSH tunnel.  The
// tunnel is not connected until Listen.
func NewSSHListener(cfg *tunnel.SSHConfig, bindAddr string, port int, logger *util.Logger) *SSHListener {
	return &SSHListener{
		Gateway:           tunnel.NewSSHTunnel(cfg, logger),
		RemoteBindAddress: bindAddr,
		RemotePort:        port,
		logger:            logger,
	}
}

// Listen connects to the gateway and requests the remote forward.
func (l *SSHListener) Listen(ctx context.Context) (net.Listener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A gateway that dropped since the last Listen is dialled again.
	if l.connected && !l.Gateway.IsAlive() {
		if l.logger != nil {
			l.logger.Warn("SSH tunnel lost, reconnecting")
		}
		l.Gateway.Close() //nolint:errcheck
		l.connected = false
	}

	if !l.connected {
		if l.logger != nil {
			l.logger.Verbose("establishing SSH tunnel")
		}
		if err := l.Gateway.Connect(ctx); err != nil {
			return nil, fmt.Errorf("tunnel: %w", err)
		}
		l.connected = true
	}

	ln, err := l.Gateway.Listen(l.RemoteBindAddress, l.RemotePort)
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// Close tears down the underlying SSH tunnel.
func (l *SSHListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		l.connected = false
		return l.Gateway.Close()
	}
	return nil
}
