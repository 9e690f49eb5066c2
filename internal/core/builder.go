package core

import (
	"capsd/config"
	"capsd/internal/capability"
	"capsd/internal/heartbeat"
	"capsd/internal/metrics"
	"capsd/internal/transform"
	"capsd/internal/transport"
	"capsd/tunnel"
	"capsd/util"
)

// Build assembles a ServeMode from a validated configuration.
func Build(cfg *config.Config, logger *util.Logger) (*ServeMode, error) {
	m := metrics.New()

	return &ServeMode{
		Listener:    buildListener(cfg, logger),
		Capability:  buildCapability(cfg, logger, m),
		Heartbeat:   buildHeartbeat(cfg, logger, m),
		MaxConns:    cfg.MaxConns,
		GracePeriod: cfg.GracePeriod,
		Logger:      logger,
		Metrics:     m,
		Address:     cfg.Address(),
	}, nil
}

// ── builders ─────────────────────────────────────────────────────────

// buildListener picks a local TCP socket, or a port forwarded from an
// SSH gateway when -R is given.
func buildListener(cfg *config.Config, logger *util.Logger) transport.Listener {
	if cfg.ExposeEnabled {
		return transport.NewSSHListener(&tunnel.SSHConfig{
			User:              cfg.GatewayUser,
			Host:              cfg.GatewayHost,
			Port:              cfg.GatewayPort,
			KeyPath:           cfg.SSHKeyPath,
			PromptPass:        cfg.SSHPassword,
			UseAgent:          cfg.UseSSHAgent,
			StrictHostKey:     cfg.StrictHostKey,
			KnownHosts:        cfg.KnownHostsPath,
			ConnTimeout:       config.DefaultConnTimeout,
			KeepAliveInterval: cfg.KeepAliveInterval,
		}, cfg.RemoteBindAddress, cfg.RemotePort, logger)
	}

	return &transport.TCPListener{
		Address:   cfg.Address(),
		ReuseAddr: cfg.ReuseAddr,
		ReusePort: cfg.ReusePort,
		KeepAlive: cfg.TCPKeepAlive,
	}
}

func buildCapability(cfg *config.Config, logger *util.Logger, m *metrics.Collector) capability.Capability {
	return &capability.LineTransform{
		Transformer: &transform.Uppercase{
			Delay:  cfg.Delay,
			Logger: logger.With("transform"),
		},
		MaxLineLength: cfg.MaxLineLength,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		Metrics:       m,
	}
}

func buildHeartbeat(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *heartbeat.Emitter {
	if cfg.Heartbeat <= 0 {
		return nil
	}
	return &heartbeat.Emitter{
		Interval: cfg.Heartbeat,
		Logger:   logger.With("heartbeat"),
		Metrics:  m,
	}
}
