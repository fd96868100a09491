package config

import (
	"strings"
	"time"

	"github.com/marmos91/xnet/internal/bytesize"
	"github.com/marmos91/xnet/internal/telemetry"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/heartbeat"
)

// Default ports.
const (
	DefaultServerPort = 7400
	DefaultAdminPort  = 7480
)

// ApplyDefaults fills zero-valued fields with their defaults and normalizes
// values. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyAdminDefaults(&cfg.Admin)
	applyServerDefaults(&cfg.Server)
	applyClientDefaults(&cfg.Client)
	applyBufferDefaults(&cfg.Buffer)
	applyHeartbeatDefaults(&cfg.Heartbeat)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = telemetry.DefaultProfileTypes()
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultAdminPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	cfg.Network = strings.ToLower(cfg.Network)
	if cfg.Port == 0 {
		cfg.Port = DefaultServerPort
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	cfg.Network = strings.ToLower(cfg.Network)
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultServerPort
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
}

func applyBufferDefaults(cfg *BufferConfig) {
	if len(cfg.Classes) > 0 {
		return
	}
	for _, c := range bufpool.DefaultConfig().Classes {
		cfg.Classes = append(cfg.Classes, BufferClass{
			Size:    bytesize.ByteSize(c.Size),
			MaxFree: c.MaxFree,
		})
	}
}

// applyHeartbeatDefaults fills each zero timing from heartbeat.DefaultConfig.
// MaxMissed is kept as given: zero closes a peer after its first unanswered
// probe.
func applyHeartbeatDefaults(cfg *HeartbeatConfig) {
	def := heartbeat.DefaultConfig()
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
}

// GetDefaultConfig returns a Config with every default applied. Metrics,
// the admin API and the heartbeat are on; tracing and profiling are off.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Metrics:   MetricsConfig{Enabled: true},
		Admin:     AdminConfig{Enabled: true},
		Heartbeat: HeartbeatConfig{Enabled: true, MaxMissed: heartbeat.DefaultConfig().MaxMissed},
	}
	ApplyDefaults(cfg)
	return cfg
}
