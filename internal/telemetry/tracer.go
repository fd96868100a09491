package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for connection and packet spans.
const (
	// ========================================================================
	// Connection attributes
	// ========================================================================
	AttrConnectionID = "xnet.connection.id"
	AttrNetwork      = "network.transport" // tcp, ws
	AttrRemoteAddr   = "network.peer.address"
	AttrLocalAddr    = "network.local.address"

	// ========================================================================
	// Packet attributes
	// ========================================================================
	AttrPacketName  = "xnet.packet.name"
	AttrPacketKind  = "xnet.packet.kind" // 16-byte kind id in uuid form
	AttrPacketBytes = "xnet.packet.bytes"
	AttrRequestID   = "xnet.request.id"
	AttrOutcome     = "xnet.request.outcome"

	// ========================================================================
	// Supervision attributes
	// ========================================================================
	AttrMissedProbes = "xnet.heartbeat.missed"
)

// Span names.
const (
	SpanDispatch = "xnet.dispatch" // one inbound packet through the handler chain
	SpanExecute  = "xnet.execute"  // one outbound request awaiting its response
	SpanGreet    = "xnet.greet"    // connection greeters
	SpanDial     = "xnet.dial"     // outbound connection establishment
)

// ConnectionID returns an attribute for the process-local connection id.
func ConnectionID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrConnectionID, int64(id))
}

// Network returns an attribute for the transport provider name.
func Network(name string) attribute.KeyValue {
	return attribute.String(AttrNetwork, name)
}

// RemoteAddr returns an attribute for the peer address.
func RemoteAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrRemoteAddr, addr)
}

// LocalAddr returns an attribute for the local address.
func LocalAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrLocalAddr, addr)
}

// PacketName returns an attribute for the registered packet name.
func PacketName(name string) attribute.KeyValue {
	return attribute.String(AttrPacketName, name)
}

// PacketKind returns an attribute for the packet kind id.
func PacketKind(kind string) attribute.KeyValue {
	return attribute.String(AttrPacketKind, kind)
}

// PacketBytes returns an attribute for an encoded frame size.
func PacketBytes(n int) attribute.KeyValue {
	return attribute.Int(AttrPacketBytes, n)
}

// RequestID returns an attribute for a correlation id.
func RequestID(id string) attribute.KeyValue {
	return attribute.String(AttrRequestID, id)
}

// Outcome returns an attribute for how a correlated request finished.
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// MissedProbes returns an attribute for consecutive unanswered liveness probes.
func MissedProbes(n int) attribute.KeyValue {
	return attribute.Int(AttrMissedProbes, n)
}

// StartDispatchSpan starts the span covering one inbound packet.
func StartDispatchSpan(ctx context.Context, packet string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	all = append(all, PacketName(packet))
	all = append(all, attrs...)

	return StartSpan(ctx, SpanDispatch,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(all...))
}

// StartExecuteSpan starts the span covering one request round trip.
func StartExecuteSpan(ctx context.Context, packet string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	all = append(all, PacketName(packet))
	all = append(all, attrs...)

	return StartSpan(ctx, SpanExecute,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(all...))
}

// StartConnectionSpan starts a span for connection lifecycle work such as
// greeting or dialing.
func StartConnectionSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}
