package telemetry

// ServiceName is reported to trace and profiling backends unless overridden.
const ServiceName = "xnet"

// Config holds OpenTelemetry configuration
type Config struct {
	// Enabled indicates whether tracing is enabled
	Enabled bool

	// ServiceName is the name of the service reported to the trace backend
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address (e.g., "localhost:4317")
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool

	// SampleRate is the fraction of connections' spans kept (0.0 to 1.0)
	SampleRate float64
}

// DefaultConfig returns tracing disabled with a local collector endpoint.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    ServiceName,
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// sampleFraction clamps the configured rate into [0, 1].
func (c Config) sampleFraction() float64 {
	switch {
	case c.SampleRate >= 1.0:
		return 1.0
	case c.SampleRate <= 0.0:
		return 0.0
	default:
		return c.SampleRate
	}
}
