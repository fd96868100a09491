package config

import (
	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/internal/telemetry"
	"github.com/marmos91/xnet/pkg/admin"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/heartbeat"
	"github.com/marmos91/xnet/pkg/host"
)

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TracingConfig returns the OpenTelemetry settings for the given build
// version.
func (c *Config) TracingConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// ProfilingConfig returns the Pyroscope settings for the given build version.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	p := c.Telemetry.Profiling
	return telemetry.ProfilingConfig{
		Enabled:        p.Enabled,
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       p.Endpoint,
		Tags:           p.Tags,
		ProfileTypes:   p.ProfileTypes,
	}
}

// PoolConfig returns the size classes for bufpool.NewPool.
func (c *Config) PoolConfig() *bufpool.Config {
	classes := make([]bufpool.Class, 0, len(c.Buffer.Classes))
	for _, bc := range c.Buffer.Classes {
		classes = append(classes, bufpool.Class{Size: bc.Size.Int(), MaxFree: bc.MaxFree})
	}
	return &bufpool.Config{Classes: classes}
}

// HostConfig returns the listener settings for host.NewServer.
func (c *Config) HostConfig() host.ServerConfig {
	return host.ServerConfig{
		Network:            c.Server.Network,
		BindAddress:        c.Server.BindAddress,
		Port:               c.Server.Port,
		MaxConnections:     c.Server.MaxConnections,
		ShutdownTimeout:    c.ShutdownTimeout,
		MetricsLogInterval: c.Server.MetricsLogInterval,
	}
}

// SupervisorConfig returns the liveness policy for heartbeat.New.
func (c *Config) SupervisorConfig() heartbeat.Config {
	return heartbeat.Config{
		Interval:      c.Heartbeat.Interval,
		IdleTimeout:   c.Heartbeat.IdleTimeout,
		ProbeInterval: c.Heartbeat.ProbeInterval,
		MaxMissed:     c.Heartbeat.MaxMissed,
		ProbeTimeout:  c.Heartbeat.ProbeTimeout,
	}
}

// AdminServerConfig returns the settings for admin.NewServer.
func (c *Config) AdminServerConfig() admin.Config {
	return admin.Config{
		BindAddress:  c.Admin.BindAddress,
		Port:         c.Admin.Port,
		ReadTimeout:  c.Admin.ReadTimeout,
		WriteTimeout: c.Admin.WriteTimeout,
		IdleTimeout:  c.Admin.IdleTimeout,
	}
}
