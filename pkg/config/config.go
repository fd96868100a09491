package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/xnet/internal/bytesize"
)

// EnvPrefix prefixes every environment override, e.g. XNET_LOGGING_LEVEL.
const EnvPrefix = "XNET"

// Config represents the xnet process configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (XNET_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics controls Prometheus collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Admin configures the HTTP admin API
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// Server configures the packet listener started by 'xnet serve'
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Client configures the target of 'xnet ping'
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Buffer configures the chunk pool shared by every connection
	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`

	// Heartbeat configures the liveness supervisor
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" yaml:"heartbeat"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether spans are exported
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of connections traced (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true,omitempty,url" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`

	// Tags are attached to every profile
	Tags map[string]string `mapstructure:"tags" yaml:"tags,omitempty"`
}

// MetricsConfig controls Prometheus collection. When enabled, metrics are
// served by the admin API under /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// AdminConfig configures the HTTP admin API.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the interface to listen on
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the HTTP port
	Port int `mapstructure:"port" validate:"required_if=Enabled true,min=0,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" validate:"gte=0" yaml:"idle_timeout"`
}

// ServerConfig configures the packet listener.
type ServerConfig struct {
	// Network is the transport provider: tcp or ws
	Network string `mapstructure:"network" validate:"required,oneof=tcp ws" yaml:"network"`

	// BindAddress is the interface to listen on; empty binds to all
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxConnections limits concurrent connections; 0 means unlimited
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`

	// MetricsLogInterval is the period of the active connection log line; 0 disables it
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"gte=0" yaml:"metrics_log_interval"`
}

// ClientConfig configures the default dial target.
type ClientConfig struct {
	Network string `mapstructure:"network" validate:"required,oneof=tcp ws" yaml:"network"`
	Host    string `mapstructure:"host" validate:"required" yaml:"host"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// RequestTimeout bounds each request sent by the CLI
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0" yaml:"request_timeout"`
}

// BufferConfig configures the pool's size classes.
type BufferConfig struct {
	Classes []BufferClass `mapstructure:"classes" validate:"required,min=1,dive" yaml:"classes"`
}

// BufferClass is one size class of the pool.
type BufferClass struct {
	// Size is the capacity of every buffer in the class
	Size bytesize.ByteSize `mapstructure:"size" validate:"gt=0" yaml:"size"`

	// MaxFree bounds how many released buffers the class retains
	MaxFree int `mapstructure:"max_free" validate:"gte=0" yaml:"max_free"`
}

// HeartbeatConfig configures the liveness supervisor. See heartbeat.Config
// for the meaning of each timing.
type HeartbeatConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Interval      time.Duration `mapstructure:"interval" validate:"gt=0" yaml:"interval"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" validate:"gt=0" yaml:"idle_timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" validate:"gt=0" yaml:"probe_interval"`
	MaxMissed     int           `mapstructure:"max_missed" validate:"gte=0" yaml:"max_missed"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" validate:"gt=0" yaml:"probe_timeout"`
}

// Load loads configuration from defaults, the config file if one is found,
// and XNET_* environment variables, then validates it.
//
// Parameters:
//   - configPath: Path to config file (empty string searches the default location)
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)
	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}
	return decode(v)
}

// MustLoad is Load for commands that need a config file on disk. It returns
// instructions when none exists.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  xnet config init\n\n"+
				"Or specify a custom config file:\n"+
				"  xnet <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  xnet config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML with durations and sizes in human-readable
// form, so the output loads back unchanged.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(toMap(reflect.ValueOf(cfg)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// newViper sets up file lookup, defaults and environment overrides.
func newViper(configPath string) *viper.Viper {
	v := viper.New()

	// Defaults are registered key by key so that environment variables can
	// override any of them, even when no file sets the key.
	for key, value := range flatten("", toMap(reflect.ValueOf(GetDefaultConfig()))) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return v
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// configDecodeHooks combines the hooks for every custom type.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings ("64KiB") and numbers to
// bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings ("30s") to time.Duration. Raw
// integers are taken as nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/xnet, ~/.config/xnet, or "." when
// no home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "xnet")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "xnet")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
