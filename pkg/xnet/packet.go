package xnet

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/marmos91/xnet/pkg/packet"
)

// Wire constants.
const (
	// Magic opens every frame header.
	Magic uint16 = 0xCAFE

	// HeaderLen is the fixed frame header size:
	//
	//	magic:  [uint16 little-endian]
	//	length: [uint16 little-endian] payload byte count
	//	kind:   [16 bytes] packet identifier
	HeaderLen = 20

	// MaxPayload is the largest payload the 16-bit length field can carry.
	MaxPayload = 0xFFFF
)

// Errors reported by connections.
var (
	ErrClosed          = errors.New("xnet: connection closed")
	ErrSendFailed      = errors.New("xnet: send failed")
	ErrPayloadTooLarge = errors.New("xnet: payload too large")
	ErrBadMagic        = errors.New("xnet: bad frame magic")
	ErrRejected        = errors.New("xnet: connection rejected by greeter")
	ErrNoResponse      = errors.New("xnet: request handled without a response")
)

// Request is a packet that expects at most one Response. Its correlation id
// is assigned by the sending connection and travels as the first 16 bytes of
// the payload.
type Request interface {
	packet.Packet
	RequestID() uuid.UUID
	SetRequestID(id uuid.UUID)

	// Handle runs on the receiving side once the handler chain reaches its
	// end. A nil Response or an error closes the connection, so the
	// peer's Execute returns ErrClosed instead of waiting.
	Handle(ctx context.Context, c *Connection) (Response, error)
}

// Response answers a Request. The id of the request it answers travels as the
// first 16 bytes of the payload.
type Response interface {
	packet.Packet
	InReplyTo() uuid.UUID
	SetInReplyTo(id uuid.UUID)
}

// RequestBase implements the correlation part of Request for embedding.
type RequestBase struct {
	id uuid.UUID
}

func (r *RequestBase) RequestID() uuid.UUID      { return r.id }
func (r *RequestBase) SetRequestID(id uuid.UUID) { r.id = id }

// ResponseBase implements Response's correlation methods for embedding.
type ResponseBase struct {
	replyTo uuid.UUID
}

func (r *ResponseBase) InReplyTo() uuid.UUID      { return r.replyTo }
func (r *ResponseBase) SetInReplyTo(id uuid.UUID) { r.replyTo = id }
