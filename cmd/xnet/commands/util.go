package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/marmos91/xnet/internal/cli/output"
	"github.com/marmos91/xnet/internal/demo"
	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/internal/telemetry"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/config"
	"github.com/marmos91/xnet/pkg/heartbeat"
	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/xnet"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// newConnConfig returns the connection settings shared by the server and
// the CLI clients: the demo packets plus the heartbeat probes, so every peer
// answers pings.
func newConnConfig(pool *bufpool.Pool) *xnet.Config {
	b := packet.NewBuilder()
	demo.Register(b)
	heartbeat.Register(b)
	return &xnet.Config{
		Providers: packet.Providers{b.Build()},
		Pool:      pool,
	}
}

// initTelemetry starts tracing and profiling as configured and returns a
// function that flushes and stops both.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	traceShutdown, err := telemetry.Init(ctx, cfg.TracingConfig(Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		_ = traceShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Debug("Profiling disabled")
	}

	return func() {
		// ctx is cancelled by now; flushing needs a fresh one.
		flushCtx := context.WithoutCancel(ctx)
		if err := traceShutdown(flushCtx); err != nil {
			logger.Error("Telemetry shutdown error", logger.KeyError, err)
		}
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", logger.KeyError, err)
		}
	}, nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// newPrinter returns a printer for the --output flag value. Colors are used
// only on a terminal and without --no-color.
func newPrinter(format string) (*output.Printer, error) {
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	color := !noColor && isatty.IsTerminal(os.Stdout.Fd())
	return output.NewPrinter(os.Stdout, f, color), nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
