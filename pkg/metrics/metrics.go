// Package metrics defines the observability interfaces recorded by the
// transport and the process-wide Prometheus registry they report into.
//
// Every interface is optional: components accept nil and then record
// nothing. Implementations live in pkg/metrics/prometheus.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := prometheus.NewConnectionMetrics()
//	cfg := &xnet.Config{Metrics: m}
//
//	// Without metrics
//	cfg := &xnet.Config{}
package metrics

import (
	"time"
)

// Violation reasons reported through RecordProtocolViolation.
const (
	ViolationBadMagic      = "bad_magic"
	ViolationUnknownPacket = "unknown_packet"
	ViolationDecode        = "decode"
	ViolationEncode        = "encode"
	ViolationHandler       = "handler"
)

// Request outcomes reported through RecordRequest.
const (
	OutcomeOK         = "ok"
	OutcomeCancelled  = "cancelled"
	OutcomeClosed     = "closed"
	OutcomeSendFailed = "send_failed"
)

// ConnectionMetrics observes the protocol engine of every connection.
type ConnectionMetrics interface {
	// RecordFrameReceived records one decoded inbound frame.
	//
	// Parameters:
	//   - kind: Registered packet name
	//   - bytes: Frame size including the 20-byte header
	RecordFrameReceived(kind string, bytes int)

	// RecordFrameSent records one frame fully written to the socket.
	RecordFrameSent(kind string, bytes int)

	// RecordDispatch records one pass of a packet through the handler chain.
	RecordDispatch(kind string, duration time.Duration, failed bool)

	// RecordRequest records the end of a correlated Execute call.
	//
	// Parameters:
	//   - kind: Registered request packet name
	//   - duration: Time from send to resolution
	//   - outcome: One of the Outcome* constants
	RecordRequest(kind string, duration time.Duration, outcome string)

	// RecordProtocolViolation records a connection torn down for a
	// protocol or application fault. reason is one of the Violation*
	// constants.
	RecordProtocolViolation(reason string)
}

// ServerMetrics observes connection lifecycle on a hosting server.
type ServerMetrics interface {
	RecordConnectionAccepted(network string)
	RecordConnectionClosed(network string)
	RecordConnectionForceClosed(network string)
	RecordConnectionRejected(network string)
	SetActiveConnections(network string, count int32)
}

// HeartbeatMetrics observes the liveness supervisor.
type HeartbeatMetrics interface {
	// RecordProbe records one liveness probe sent.
	RecordProbe()

	// RecordLivenessTimeout records a connection closed for silence.
	RecordLivenessTimeout()

	// SetTracked reports how many connections are supervised.
	SetTracked(count int)
}
