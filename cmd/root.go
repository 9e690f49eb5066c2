// Package cmd wires up the CLI flags and starts the server.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"capsd/config"
	"capsd/internal/core"
	"capsd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X capsd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the server until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout)
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("capsd", flag.ContinueOnError)

	// ── server ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.Host, "addr", "a", cfg.Host, "Bind address")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Bind port (0 = pick a free port)")
	fs.DurationVar(&cfg.Delay, "delay", cfg.Delay, "Simulated processing time per line")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Heartbeat interval (0 disables)")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "Maximum concurrent connections")
	fs.IntVar(&cfg.MaxLineLength, "max-line", cfg.MaxLineLength, "Maximum request line length in bytes")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Per-line read timeout (0 = none)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Per-response write timeout (0 = none)")
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "Shutdown grace period for open connections")
	fs.BoolVar(&cfg.ReuseAddr, "reuse-addr", cfg.ReuseAddr, "Set SO_REUSEADDR on the listening socket")
	fs.BoolVar(&cfg.ReusePort, "reuse-port", cfg.ReusePort, "Set SO_REUSEPORT on the listening socket")
	fs.DurationVar(&cfg.TCPKeepAlive, "tcp-keepalive", cfg.TCPKeepAlive, "TCP keep-alive period for client connections (0 = system default, negative disables)")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&cfg.ExposeSpec, "expose", "R", cfg.ExposeSpec, "Serve on a remote SSH gateway [user@]host[:port]")
	fs.IntVar(&cfg.RemotePort, "remote-port", cfg.RemotePort, "Port to bind on the gateway (0 = gateway picks)")
	fs.StringVar(&cfg.RemoteBindAddress, "remote-bind", cfg.RemoteBindAddress, "Address to bind on the gateway")
	fs.DurationVar(&cfg.KeepAliveInterval, "keep-alive", cfg.KeepAliveInterval, "SSH keepalive interval (0 disables)")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	var extraVerbose int
	fs.CountVarP(&extraVerbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, "Only print errors")
	fs.BoolVar(&cfg.Timestamps, "timestamps", cfg.Timestamps, "Prefix log lines with timestamps")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Validate configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(out, "capsd %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	cfg.Verbose += extraVerbose
	if cfg.Quiet {
		cfg.Verbose = 0
	}

	if err := cfg.ResolveExpose(currentUser()); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.DryRun {
		printConfig(out, cfg)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.Timestamps {
		logger.SetTimestamps(true)
	}

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "capsd %s (dry run)\n", version)
	fmt.Fprintf(w, "  listen         %s\n", cfg.Address())
	fmt.Fprintf(w, "  delay          %s\n", cfg.Delay)
	fmt.Fprintf(w, "  heartbeat      %s\n", cfg.Heartbeat)
	fmt.Fprintf(w, "  max-conns      %d\n", cfg.MaxConns)
	fmt.Fprintf(w, "  max-line       %d\n", cfg.MaxLineLength)
	fmt.Fprintf(w, "  read-timeout   %s\n", cfg.ReadTimeout)
	fmt.Fprintf(w, "  write-timeout  %s\n", cfg.WriteTimeout)
	fmt.Fprintf(w, "  grace          %s\n", cfg.GracePeriod)
	if !cfg.ExposeEnabled {
		fmt.Fprintf(w, "  tcp-keepalive  %s\n", cfg.TCPKeepAlive)
	}
	fmt.Fprintf(w, "  verbosity      %s\n", util.LogLevel(cfg.Verbose))
	if cfg.ExposeEnabled {
		fmt.Fprintf(w, "  expose         %s@%s -> %s\n",
			cfg.GatewayUser, util.FormatAddr(cfg.GatewayHost, cfg.GatewayPort),
			util.FormatAddr(cfg.RemoteBindAddress, cfg.RemotePort))
		fmt.Fprintf(w, "  keep-alive     %s\n", cfg.KeepAliveInterval)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `capsd – line uppercasing server v%s

Every newline-terminated line a client sends is answered with the same
line trimmed and uppercased.  An empty line closes the connection.

Usage:
  capsd [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  Every option can also be set through CAPSD_<NAME>, e.g. CAPSD_PORT=9000
  or CAPSD_DELAY=50ms.  Flags take precedence.

Examples:
  capsd                                      Serve on 127.0.0.1:8080
  capsd -a 0.0.0.0 -p 9000 --delay 0         All interfaces, no delay
  capsd -vv --heartbeat 1m                   Byte counts and debug metrics
  capsd -R deploy@gw.example.com --remote-port 9000
                                             Serve on a remote SSH gateway
  printf 'hello\n\n' | nc 127.0.0.1 8080     Talk to it
`)
}
