package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/xnet/internal/bytesize"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/heartbeat"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// ============================================================================
// Load Tests
// ============================================================================

func TestLoad(t *testing.T) {
	t.Run("PartialFileKeepsDefaults", func(t *testing.T) {
		path := writeConfig(t, `
logging:
  level: debug
server:
  network: ws
  port: 9000
heartbeat:
  idle_timeout: 10s
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "DEBUG", cfg.Logging.Level)
		assert.Equal(t, "text", cfg.Logging.Format)
		assert.Equal(t, "ws", cfg.Server.Network)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 10*time.Second, cfg.Heartbeat.IdleTimeout)
		assert.Equal(t, time.Second, cfg.Heartbeat.Interval)
		assert.Equal(t, 5, cfg.Heartbeat.MaxMissed)
		assert.True(t, cfg.Heartbeat.Enabled)
		assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
		assert.Len(t, cfg.Buffer.Classes, len(bufpool.DefaultConfig().Classes))
	})

	t.Run("MissingDefaultFileUsesDefaults", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, GetDefaultConfig(), cfg)
	})

	t.Run("HumanReadableSizes", func(t *testing.T) {
		path := writeConfig(t, `
buffer:
  classes:
    - size: 4KiB
      max_free: 16
    - size: 64Ki
      max_free: 2
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		require.Len(t, cfg.Buffer.Classes, 2)
		assert.Equal(t, 4*bytesize.KiB, cfg.Buffer.Classes[0].Size)
		assert.Equal(t, 16, cfg.Buffer.Classes[0].MaxFree)
		assert.Equal(t, 64*bytesize.KiB, cfg.Buffer.Classes[1].Size)

		pool := cfg.PoolConfig()
		assert.Equal(t, bufpool.Class{Size: 4096, MaxFree: 16}, pool.Classes[0])
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv("XNET_SERVER_PORT", "9100")
		t.Setenv("XNET_HEARTBEAT_PROBE_INTERVAL", "2s")
		t.Setenv("XNET_LOGGING_FORMAT", "json")

		cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
		require.NoError(t, err)

		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, 2*time.Second, cfg.Heartbeat.ProbeInterval)
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.Equal(t, "WARN", cfg.Logging.Level)
	})

	t.Run("InvalidFileRejected", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server:\n  network: carrier-pigeon\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.network")
		assert.Contains(t, err.Error(), "oneof")
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		_, err := Load(writeConfig(t, "logging: [unclosed\n"))
		assert.Error(t, err)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := MustLoad(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "xnet config init")
	})

	t.Run("MissingDefaultFile", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		_, err := MustLoad("")
		assert.Error(t, err)
	})
}

// ============================================================================
// Save Tests
// ============================================================================

func TestSaveConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = 9999
	cfg.Heartbeat.ProbeInterval = 3 * time.Second
	cfg.Telemetry.Profiling.Tags = map[string]string{"region": "eu"}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "probe_interval: 3s")
	assert.Contains(t, string(data), "size: 4KiB")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestMap(t *testing.T) {
	m := GetDefaultConfig().Map()

	server, ok := m["server"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, DefaultServerPort, server["port"])
	assert.Equal(t, "10s", m["shutdown_timeout"])
	assert.NotContains(t, m["telemetry"].(map[string]any)["profiling"], "tags")
}

func TestWatchWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Watch("", func(*Config) { t.Error("unexpected reload") })
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watch test in short mode")
	}

	path := writeConfig(t, "logging:\n  level: info\n")

	reloaded := make(chan *Config, 4)
	cfg, err := Watch(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-reloaded:
			if c.Logging.Level == "ERROR" {
				return
			}
		case <-deadline:
			t.Fatal("configuration change not observed")
		}
	}
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Defaults", func(*Config) {}, ""},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "LOUD" }, "logging.level"},
		{"InvalidLogFormat", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"PortOutOfRange", func(c *Config) { c.Server.Port = 70000 }, "max"},
		{"NegativeMaxConnections", func(c *Config) { c.Server.MaxConnections = -1 }, "server.max_connections"},
		{"SampleRateAboveOne", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "telemetry.sample_rate"},
		{"TelemetryWithoutEndpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry.endpoint"},
		{"UnknownProfileType", func(c *Config) { c.Telemetry.Profiling.ProfileTypes = []string{"cpu", "vibes"} }, "profile_types"},
		{"ZeroHeartbeatInterval", func(c *Config) { c.Heartbeat.Interval = 0 }, "heartbeat.interval"},
		{"ZeroShutdownTimeout", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"NoBufferClasses", func(c *Config) { c.Buffer.Classes = nil }, "buffer.classes"},
		{"MissingChunkClass", func(c *Config) {
			c.Buffer.Classes = []BufferClass{{Size: 64 * bytesize.KiB, MaxFree: 1}}
		}, "chunk_class"},
		{"DuplicateClassSize", func(c *Config) {
			c.Buffer.Classes = append(c.Buffer.Classes, BufferClass{Size: 4 * bytesize.KiB})
		}, "unique_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// ============================================================================
// Conversion Tests
// ============================================================================

func TestConversions(t *testing.T) {
	cfg := GetDefaultConfig()

	t.Run("HostConfig", func(t *testing.T) {
		hc := cfg.HostConfig()
		assert.Equal(t, "tcp", hc.Network)
		assert.Equal(t, DefaultServerPort, hc.Port)
		assert.Equal(t, cfg.ShutdownTimeout, hc.ShutdownTimeout)
	})

	t.Run("TracingConfig", func(t *testing.T) {
		tc := cfg.TracingConfig("1.2.3")
		assert.False(t, tc.Enabled)
		assert.Equal(t, "xnet", tc.ServiceName)
		assert.Equal(t, "1.2.3", tc.ServiceVersion)
		assert.Equal(t, 1.0, tc.SampleRate)
	})

	t.Run("ProfilingConfig", func(t *testing.T) {
		pc := cfg.ProfilingConfig("1.2.3")
		assert.False(t, pc.Enabled)
		assert.NotEmpty(t, pc.ProfileTypes)
	})

	t.Run("LoggerConfig", func(t *testing.T) {
		lc := cfg.LoggerConfig()
		assert.Equal(t, "INFO", lc.Level)
		assert.Equal(t, "stdout", lc.Output)
	})

	t.Run("AdminServerConfig", func(t *testing.T) {
		ac := cfg.AdminServerConfig()
		assert.Equal(t, "127.0.0.1", ac.BindAddress)
		assert.Equal(t, DefaultAdminPort, ac.Port)
	})

	t.Run("HeartbeatDefaultsMatchSupervisor", func(t *testing.T) {
		assert.Equal(t, heartbeat.DefaultConfig(), cfg.SupervisorConfig())
	})
}
