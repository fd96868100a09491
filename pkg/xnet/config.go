package xnet

import (
	"time"

	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/metrics"
	"github.com/marmos91/xnet/pkg/packet"
)

// Config is shared by every connection created from it and must not be
// modified once a connection is serving.
type Config struct {
	// Providers resolve packet kinds in order; the first match wins.
	Providers packet.Providers

	// Handlers run for every inbound packet, before the packet's own.
	Handlers []Handler

	// Greeters run once per connection before the receive loop starts.
	Greeters []Greeter

	// Metrics is optional.
	Metrics metrics.ConnectionMetrics

	// Pool backs the receive buffers. Nil uses bufpool.Default().
	Pool *bufpool.Pool
}

func (cfg *Config) pool() *bufpool.Pool {
	if cfg.Pool == nil {
		return bufpool.Default()
	}
	return cfg.Pool
}

func (cfg *Config) metrics() metrics.ConnectionMetrics {
	if cfg.Metrics == nil {
		return nopMetrics{}
	}
	return cfg.Metrics
}

type nopMetrics struct{}

func (nopMetrics) RecordFrameReceived(string, int) {}
func (nopMetrics) RecordFrameSent(string, int) {}
func (nopMetrics) RecordDispatch(string, time.Duration, bool) {}
func (nopMetrics) RecordRequest(string, time.Duration, string) {}
func (nopMetrics) RecordProtocolViolation(string) {}
