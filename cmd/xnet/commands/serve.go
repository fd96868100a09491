package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/pkg/admin"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/config"
	"github.com/marmos91/xnet/pkg/heartbeat"
	"github.com/marmos91/xnet/pkg/host"
	"github.com/marmos91/xnet/pkg/metrics"
	prommetrics "github.com/marmos91/xnet/pkg/metrics/prometheus"
	"github.com/marmos91/xnet/pkg/xnet"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the packet server",
	Long: `Run the xnet packet server in the foreground.

The server answers demo echo requests, probes idle peers with heartbeats and,
when enabled, exposes the admin API with health, connection and Prometheus
endpoints. Changes to the logging level in the config file apply live.

Examples:
  # Serve with the default config location (or built-in defaults)
  xnet serve

  # Serve with a custom config file
  xnet serve --config /etc/xnet/config.yaml

  # Override settings from the environment
  XNET_SERVER_NETWORK=ws XNET_LOGGING_LEVEL=DEBUG xnet serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Watch(GetConfigFile(), config.ApplyLogLevel)
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	// The registry must exist before any Prometheus constructor runs.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}

	pool := bufpool.NewPool(cfg.PoolConfig())
	prommetrics.RegisterPoolCollector(pool)

	connCfg := newConnConfig(pool)
	connCfg.Metrics = prommetrics.NewConnectionMetrics()

	var supervisor *heartbeat.Supervisor
	if cfg.Heartbeat.Enabled {
		supervisor = heartbeat.New(cfg.SupervisorConfig(), prommetrics.NewHeartbeatMetrics())
		connCfg.Greeters = append(connCfg.Greeters, supervisor.Greeter())
		connCfg.Handlers = append([]xnet.Handler{supervisor.Handler()}, connCfg.Handlers...)
		logger.Info("Heartbeat enabled",
			"idle_timeout", cfg.Heartbeat.IdleTimeout,
			"probe_interval", cfg.Heartbeat.ProbeInterval,
			"max_missed", cfg.Heartbeat.MaxMissed)
	}

	srv, err := host.NewServer(cfg.HostConfig(), connCfg, prommetrics.NewServerMetrics())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })

	if supervisor != nil {
		g.Go(func() error { return ignoreCanceled(supervisor.Run(gctx)) })
	}

	if cfg.Admin.Enabled {
		adm := admin.NewServer(cfg.AdminServerConfig(), admin.Sources{Host: srv, Pool: pool})
		g.Go(func() error { return adm.Start(gctx) })
	} else {
		logger.Info("Admin API disabled")
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := g.Wait(); err != nil {
		logger.Error("Server error", logger.KeyError, err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
