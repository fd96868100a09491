package xnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/pkg/metrics"
	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/stream"
)

// Emit sends p without waiting for any reply and reports whether the whole
// frame was written. A Request emitted this way gets a fresh correlation id
// whose eventual response is dropped.
//
// A packet type missing from the providers is not sent and leaves the
// connection open. A packet that fails to encode, or encodes to more than
// MaxPayload bytes, closes the connection.
func (c *Connection) Emit(ctx context.Context, p packet.Packet) bool {
	if c.IsClosed() {
		return false
	}
	if req, ok := p.(Request); ok {
		id := c.reserve(req, nil)
		if err := c.send(ctx, p); err != nil {
			c.release(id, nil)
			return false
		}
		return true
	}
	return c.send(ctx, p) == nil
}

// send encodes p and writes its frame under the send lock.
func (c *Connection) send(ctx context.Context, p packet.Packet) error {
	w, err := c.encode(p)
	if err != nil {
		if errors.Is(err, packet.ErrUnknownPacket) {
			logger.Warn("Refusing to send unregistered packet",
				logger.KeyConnectionID, c.id,
				logger.KeyPacket, fmt.Sprintf("%T", p))
			return err
		}
		logger.Warn("Closing connection after encode failure",
			logger.KeyConnectionID, c.id,
			logger.KeyPacket, c.nameOf(p),
			logger.KeyError, err)
		c.metrics.RecordProtocolViolation(metrics.ViolationEncode)
		c.Kick()
		return err
	}
	defer w.Release()

	if err := c.lockSend(ctx); err != nil {
		return err
	}
	defer c.unlockSend()

	frame := w.Bytes()
	written := 0
	for written < len(frame) {
		n, err := c.socket.Send(ctx, frame[written:])
		written += n
		if err != nil {
			// A partial frame leaves the peer unable to find the next
			// header.
			if written > 0 {
				c.Kick()
			}
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	c.metrics.RecordFrameSent(c.nameOf(p), len(frame))
	return nil
}

// encode builds the complete frame for p: header, correlation id when p is a
// Request or Response, then the packet's own encoding.
func (c *Connection) encode(p packet.Packet) (*packet.Writer, error) {
	kind, ok := c.cfg.Providers.LookupID(p)
	if !ok {
		return nil, fmt.Errorf("%w: %T", packet.ErrUnknownPacket, p)
	}

	w := packet.NewWriter(stream.ChunkSize)
	w.Grow(HeaderLen)
	switch v := p.(type) {
	case Request:
		w.WriteUUID(v.RequestID())
	case Response:
		w.WriteUUID(v.InReplyTo())
	}

	if err := safely(func() error { return p.Encode(w) }); err != nil {
		w.Release()
		return nil, fmt.Errorf("encode %T: %w", p, err)
	}

	size := w.Len() - HeaderLen
	if size > MaxPayload {
		w.Release()
		return nil, fmt.Errorf("%w: %T encodes to %d bytes", ErrPayloadTooLarge, p, size)
	}

	// The header is patched last; Encode may have moved the buffer.
	frame := w.Bytes()
	binary.LittleEndian.PutUint16(frame[0:2], Magic)
	binary.LittleEndian.PutUint16(frame[2:4], uint16(size))
	copy(frame[4:HeaderLen], kind[:])
	return w, nil
}

func (c *Connection) lockSend(ctx context.Context) error {
	select {
	case c.sendSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.Closing():
		return ErrClosed
	}
}

func (c *Connection) unlockSend() { <-c.sendSem }
