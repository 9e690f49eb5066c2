package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the CAPSD_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations use Go
// syntax ("150ms", "10s"); malformed values are ignored.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CAPSD_ADDR"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("CAPSD_PORT"); ok {
		cfg.Port = v
	}
	if v, ok := envDuration("CAPSD_DELAY"); ok {
		cfg.Delay = v
	}
	if v, ok := envDuration("CAPSD_HEARTBEAT"); ok {
		cfg.Heartbeat = v
	}
	if v, ok := envInt("CAPSD_MAX_CONNS"); ok {
		cfg.MaxConns = v
	}
	if v, ok := envInt("CAPSD_MAX_LINE"); ok {
		cfg.MaxLineLength = v
	}
	if v, ok := envDuration("CAPSD_READ_TIMEOUT"); ok {
		cfg.ReadTimeout = v
	}
	if v, ok := envDuration("CAPSD_WRITE_TIMEOUT"); ok {
		cfg.WriteTimeout = v
	}
	if v, ok := envDuration("CAPSD_GRACE"); ok {
		cfg.GracePeriod = v
	}
	if envBool("CAPSD_REUSE_ADDR") {
		cfg.ReuseAddr = true
	}
	if envBool("CAPSD_REUSE_PORT") {
		cfg.ReusePort = true
	}
	if v, ok := envDuration("CAPSD_TCP_KEEPALIVE"); ok {
		cfg.TCPKeepAlive = v
	}

	// SSH gateway
	if v := os.Getenv("CAPSD_EXPOSE"); v != "" {
		cfg.ExposeSpec = v
	}
	if v := os.Getenv("CAPSD_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("CAPSD_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("CAPSD_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("CAPSD_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("CAPSD_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v, ok := envInt("CAPSD_REMOTE_PORT"); ok {
		cfg.RemotePort = v
	}
	if v := os.Getenv("CAPSD_REMOTE_BIND_ADDRESS"); v != "" {
		cfg.RemoteBindAddress = v
	}
	if v, ok := envDuration("CAPSD_KEEP_ALIVE"); ok {
		cfg.KeepAliveInterval = v
	}

	// Output
	if v, ok := envInt("CAPSD_VERBOSE"); ok && v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
