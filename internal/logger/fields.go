package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use them consistently so log
// aggregation can join a connection's lines across packages.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Connection
	// ========================================================================
	KeyConnectionID = "connection_id" // Process-local connection counter
	KeyNetwork      = "network"       // Transport provider: tcp, ws
	KeyRemoteAddr   = "remote_addr"   // Peer address
	KeyLocalAddr    = "local_addr"    // Local address
	KeyAddress      = "address"       // Listen or dial target
	KeyActive       = "active"        // Active connection count

	// ========================================================================
	// Packets
	// ========================================================================
	KeyPacket    = "packet"     // Registered packet name
	KeyKind      = "kind"       // Packet kind id
	KeyRequestID = "request_id" // Correlation id of a request or response
	KeyBytes     = "bytes"      // Frame or payload size
	KeyPending   = "pending"    // Outstanding correlated requests

	// ========================================================================
	// Supervision
	// ========================================================================
	KeyIdle   = "idle"   // Time since the last inbound frame
	KeyMissed = "missed" // Consecutive unanswered probes

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyReason     = "reason"      // Why a connection was closed
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyComponent  = "component"   // Emitting subsystem: server, client, admin
)

// ============================================================================
// Field constructors
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ConnectionID returns a slog.Attr for the connection counter.
func ConnectionID(id uint64) slog.Attr {
	return slog.Uint64(KeyConnectionID, id)
}

func Network(name string) slog.Attr {
	return slog.String(KeyNetwork, name)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// Packet returns a slog.Attr for a registered packet name.
func Packet(name string) slog.Attr {
	return slog.String(KeyPacket, name)
}

// RequestID returns a slog.Attr for a correlation id in its canonical form.
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// Idle returns a slog.Attr for an idle duration, rounded to milliseconds.
func Idle(d time.Duration) slog.Attr {
	return slog.String(KeyIdle, d.Round(time.Millisecond).String())
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}
