package tunnel

// forward.go - SSH forwarded-tcpip listener.
//
// ssh.Client.Listen keys forwarded-tcpip channels on the exact bind
// address it sent.  Several public gateways echo back a different
// address ("0.0.0.0" for ""), and the library then rejects every
// channel with "no forward for address".  We register our own handler,
// send tcpip-forward ourselves and accept every channel.

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// channelForwardMsg is the payload of "tcpip-forward" and
// "cancel-tcpip-forward" (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardedTCPPayload is the channel-open payload for
// "forwarded-tcpip" (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// forwardListener implements [net.Listener] over forwarded-tcpip
// channels.
type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// Accept waits for the next forwarded connection.  After Close it
// returns net.ErrClosed, like a TCP listener.
func (l *forwardListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case newCh, ok := <-l.incoming:
		if !ok {
			return nil, net.ErrClosed
		}
		ch, reqs, err := newCh.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var payload forwardedTCPPayload
		if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err == nil {
			raddr = &net.TCPAddr{
				IP:   net.ParseIP(payload.OriginAddr),
				Port: int(payload.OriginPort),
			}
		}
		return newChanConn(ch, l.Addr(), raddr), nil
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

// Addr returns the address bound on the gateway.
func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.bindPort)}
}

// listenRemoteForward sends a tcpip-forward request and returns a
// listener receiving the forwarded channels.
func listenRemoteForward(client *ssh.Client, bindAddr string, bindPort int) (net.Listener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward request denied by peer")
	}

	// Port 0 asks the gateway to choose; it answers with the port.
	if bindPort == 0 && len(reply) >= 4 {
		var allocated struct{ Port uint32 }
		if err := ssh.Unmarshal(reply, &allocated); err == nil {
			msg.Port = allocated.Port
		}
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: msg.Port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// ── chanConn ─────────────────────────────────────────────────────────

// chanConn wraps an [ssh.Channel] to satisfy [net.Conn].
//
// SSH channels have no deadlines.  A deadline here closes the channel
// when it expires, which fails the pending Read or Write the same way a
// dropped peer would; the zero time cancels it.  Read and write
// deadlines run on separate timers.
type chanConn struct {
	ssh.Channel
	laddr, raddr net.Addr

	mu         sync.Mutex
	readTimer  *time.Timer
	writeTimer *time.Timer
}

func newChanConn(ch ssh.Channel, laddr, raddr net.Addr) *chanConn {
	return &chanConn{Channel: ch, laddr: laddr, raddr: raddr}
}

func (c *chanConn) LocalAddr() net.Addr  { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr { return c.raddr }

func (c *chanConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *chanConn) SetReadDeadline(t time.Time) error  { return c.arm(&c.readTimer, t) }
func (c *chanConn) SetWriteDeadline(t time.Time) error { return c.arm(&c.writeTimer, t) }

// arm replaces the timer in slot with one that closes the channel at t.
func (c *chanConn) arm(slot **time.Timer, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
	if t.IsZero() {
		return nil
	}
	d := time.Until(t)
	if d <= 0 {
		err := c.Channel.Close()
		if err == io.EOF {
			return nil
		}
		return err
	}
	*slot = time.AfterFunc(d, func() { c.Channel.Close() })
	return nil
}

// Close stops pending deadlines and closes the channel.
func (c *chanConn) Close() error {
	c.mu.Lock()
	for _, tm := range []*time.Timer{c.readTimer, c.writeTimer} {
		if tm != nil {
			tm.Stop()
		}
	}
	c.readTimer, c.writeTimer = nil, nil
	c.mu.Unlock()

	err := c.Channel.Close()
	if err == io.EOF {
		// Already closed by a deadline or by the gateway.
		return nil
	}
	return err
}
