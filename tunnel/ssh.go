package tunnel

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "capsd/internal/errors"
	"capsd/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAliveInterval sends keepalive@openssh.com requests while a
	// forward is active; 0 disables them.
	KeepAliveInterval time.Duration
}

// SSHTunnel implements [Gateway] on top of golang.org/x/crypto/ssh.
type SSHTunnel struct {
	config *SSHConfig
	client *ssh.Client
	logger *util.Logger

	mu       sync.RWMutex
	alive    bool
	forwards []net.Listener
	cancel   context.CancelFunc
}

// NewSSHTunnel creates a tunnel that is ready to [SSHTunnel.Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHTunnel{config: cfg, logger: logger.With("ssh")}
}

// Connect dials the SSH gateway and completes the handshake.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	authMethods, err := BuildAuthMethods(t.config, TerminalPrompt)
	if err != nil {
		return ncerr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}

	hkCallback, err := hostKeyCallback(t.config)
	if err != nil {
		return ncerr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         t.config.ConnTimeout,
		// Public gateways print the assigned URL in the banner.
		BannerCallback: func(message string) error {
			t.logger.Info("%s", message)
			return nil
		},
	}

	addr := util.FormatAddr(t.config.Host, t.config.Port)
	t.logger.Debug("dialing %s as %s", addr, t.config.User)

	var dialer net.Dialer
	dialer.Timeout = t.config.ConnTimeout
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return ncerr.WrapSSH("handshake", t.config.Host, t.config.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	kaCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.client = client
	t.alive = true
	t.cancel = cancel
	t.mu.Unlock()

	go t.monitor(client)
	if t.config.KeepAliveInterval > 0 {
		go t.keepaliveLoop(kaCtx, client)
	}

	t.logger.Verbose("connected to %s", addr)
	return nil
}

// Listen asks the gateway to forward bindAddr:port back to us.
func (t *SSHTunnel) Listen(bindAddr string, port int) (net.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.alive || t.client == nil {
		return nil, ncerr.ErrNotConnected
	}

	ln, err := listenRemoteForward(t.client, bindAddr, port)
	if err != nil {
		return nil, ncerr.WrapSSH("forward", t.config.Host, t.config.Port, err)
	}
	t.forwards = append(t.forwards, ln)

	t.logger.Info("forwarding %s on %s back to this server",
		util.FormatAddr(bindAddr, port), t.config.Host)
	return ln, nil
}

// Close shuts down every forward and the SSH connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.closeForwardsLocked()
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the tunnel is still connected.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

func (t *SSHTunnel) closeForwardsLocked() {
	for _, ln := range t.forwards {
		ln.Close()
	}
	t.forwards = nil
}

// monitor blocks until the SSH connection closes, then marks the
// tunnel dead and closes the forwards so Accept callers wake up.
func (t *SSHTunnel) monitor(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	t.alive = false
	t.closeForwardsLocked()
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("connection closed: %v", err)
	} else {
		t.logger.Debug("connection closed")
	}
}

// keepaliveLoop sends periodic keep-alive requests and closes the
// client when the gateway stops answering; monitor does the rest.
func (t *SSHTunnel) keepaliveLoop(ctx context.Context, client *ssh.Client) {
	ticker := time.NewTicker(t.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Error("keepalive failed: %v", err)
				client.Close()
				return
			}
			t.logger.Debug("keepalive OK")
		}
	}
}
