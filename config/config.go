// Package config defines the runtime configuration for capsd and
// provides the gateway-spec parser used by -R.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "capsd/internal/errors"
	"capsd/util"
)

// Config holds every tuneable for a server process.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	Host          string
	Port          int
	Delay         time.Duration // simulated work per line
	Heartbeat     time.Duration // 0 disables the heartbeat
	MaxConns      int
	MaxLineLength int
	ReadTimeout   time.Duration // 0 = wait forever
	WriteTimeout  time.Duration // 0 = wait forever
	GracePeriod   time.Duration
	ReuseAddr     bool
	ReusePort     bool
	TCPKeepAlive  time.Duration // 0 = system default, <0 = off

	// ── SSH gateway (-R) ─────────────────────────────────────────────
	ExposeSpec        string // raw [user@]host[:port] from -R
	ExposeEnabled     bool
	GatewayUser       string
	GatewayHost       string
	GatewayPort       int
	RemotePort        int
	RemoteBindAddress string
	KeepAliveInterval time.Duration
	SSHKeyPath        string
	SSHPassword       bool // true → prompt interactively
	UseSSHAgent       bool
	StrictHostKey     bool
	KnownHostsPath    string

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	Quiet      bool
	Timestamps bool
	DryRun     bool
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Delay:             DefaultDelay,
		Heartbeat:         DefaultHeartbeat,
		MaxConns:          DefaultMaxConns,
		MaxLineLength:     DefaultMaxLineLength,
		GracePeriod:       DefaultGracePeriod,
		RemoteBindAddress: DefaultRemoteBindAddress,
		KeepAliveInterval: DefaultKeepAliveInterval,
		Verbose:           1,
	}
}

// Address is the local listen address in host:port form.
func (c *Config) Address() string {
	return util.FormatAddr(c.Host, c.Port)
}

// ── Gateway-spec parser ──────────────────────────────────────────────

// gatewayRe matches [user@]host[:port].
var gatewayRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseGatewaySpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseGatewaySpec(spec string) (user, host string, port int, err error) {
	m := gatewayRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ResolveExpose parses ExposeSpec into the Gateway* fields.  A missing
// user falls back to $USER.
func (c *Config) ResolveExpose(defaultUser string) error {
	if c.ExposeSpec == "" {
		return nil
	}
	user, host, port, err := ParseGatewaySpec(c.ExposeSpec)
	if err != nil {
		return &ncerr.ConfigError{
			Field:   "expose",
			Value:   c.ExposeSpec,
			Message: err.Error(),
			Hint:    "use -R user@gateway.example.com[:22]",
		}
	}
	if user == "" {
		user = defaultUser
	}
	c.ExposeEnabled = true
	c.GatewayUser = user
	c.GatewayHost = host
	c.GatewayPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ncerr.ConfigError{
			Field:   "addr",
			Message: "bind address is required",
			Hint:    "use -a 127.0.0.1 for loopback or -a 0.0.0.0 for all interfaces",
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 0-65535",
			Hint:    "use 0 to let the system pick a free port",
		}
	}
	if c.Delay < 0 {
		return &ncerr.ConfigError{Field: "delay", Value: c.Delay, Message: "must not be negative"}
	}
	if c.Heartbeat < 0 {
		return &ncerr.ConfigError{
			Field:   "heartbeat",
			Value:   c.Heartbeat,
			Message: "must not be negative",
			Hint:    "use --heartbeat=0 to disable the heartbeat",
		}
	}
	if c.MaxConns < 1 {
		return &ncerr.ConfigError{
			Field:   "max-conns",
			Value:   c.MaxConns,
			Message: "must be at least 1",
		}
	}
	if c.MaxLineLength < 1 {
		return &ncerr.ConfigError{
			Field:   "max-line",
			Value:   c.MaxLineLength,
			Message: "must be at least 1",
		}
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return &ncerr.ConfigError{
			Field:   "read-timeout",
			Message: "timeouts must not be negative",
			Hint:    "use 0 to wait forever",
		}
	}
	if c.GracePeriod < 0 {
		return &ncerr.ConfigError{Field: "grace", Value: c.GracePeriod, Message: "must not be negative"}
	}
	if c.ExposeEnabled {
		return c.validateExpose()
	}
	return nil
}

func (c *Config) validateExpose() error {
	if c.GatewayHost == "" {
		return &ncerr.ConfigError{Field: "expose", Message: "gateway host is required"}
	}
	if c.GatewayUser == "" {
		return &ncerr.ConfigError{
			Field:   "expose",
			Value:   c.ExposeSpec,
			Message: "no SSH user given and $USER is not set",
			Hint:    "use -R user@" + c.GatewayHost,
		}
	}
	if c.RemotePort < 0 || c.RemotePort > 65535 {
		return &ncerr.ConfigError{
			Field:   "remote-port",
			Value:   c.RemotePort,
			Message: "out of range 0-65535",
			Hint:    "use 0 to let the gateway choose",
		}
	}
	if c.KeepAliveInterval < 0 {
		return &ncerr.ConfigError{
			Field:   "keep-alive",
			Value:   c.KeepAliveInterval,
			Message: "must not be negative",
			Hint:    "use --keep-alive=0 to disable keepalives",
		}
	}
	if c.SSHPassword && c.UseSSHAgent {
		return &ncerr.ConfigError{
			Field:   "ssh-password",
			Message: "--ssh-password and --ssh-agent are mutually exclusive",
		}
	}
	return nil
}
