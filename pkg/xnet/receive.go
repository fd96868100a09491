package xnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/internal/telemetry"
	"github.com/marmos91/xnet/pkg/metrics"
	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/stream"
)

type receiveState uint8

const (
	waitHeader receiveState = iota
	waitPayload
	decodeFrame
)

// receiveLoop frames bytes from recv into packets. Every frame decoded from
// the bytes at hand is queued first and dispatched in order before the next
// socket read, so handlers never run interleaved with framing.
func (c *Connection) receiveLoop(ctx context.Context) error {
	var (
		state   = waitHeader
		header  [HeaderLen]byte
		kind    packet.ID
		payload = make([]byte, 0, stream.ChunkSize)
		queue   []packet.Packet
	)

	chunk := c.cfg.pool().Get(stream.ChunkSize)
	defer c.cfg.pool().Put(chunk)

	for !c.IsClosed() {
		// Each state either advances and continues, or breaks out of the
		// switch to wait for more bytes.
		switch state {
		case waitHeader:
			if c.recv.TryDequeue(header[:], true) == 0 {
				break
			}
			if magic := binary.LittleEndian.Uint16(header[0:2]); magic != Magic {
				logger.WarnCtx(ctx, "Closing connection on bad frame magic",
					logger.KeyReason, metrics.ViolationBadMagic,
					"magic", fmt.Sprintf("0x%04x", magic))
				c.metrics.RecordProtocolViolation(metrics.ViolationBadMagic)
				c.Kick()
				continue
			}
			length := int(binary.LittleEndian.Uint16(header[2:4]))
			copy(kind[:], header[4:HeaderLen])
			if cap(payload) < length {
				payload = make([]byte, length)
			}
			payload = payload[:length]
			state = waitPayload
			continue

		case waitPayload:
			if len(payload) > 0 && c.recv.TryDequeue(payload, true) == 0 {
				break
			}
			state = decodeFrame
			continue

		case decodeFrame:
			state = waitHeader
			p, err := c.decode(kind, payload)
			if err != nil {
				reason := metrics.ViolationDecode
				if errors.Is(err, packet.ErrUnknownPacket) {
					reason = metrics.ViolationUnknownPacket
				}
				logger.WarnCtx(ctx, "Closing connection on undecodable frame",
					logger.KeyReason, reason,
					logger.KeyKind, kind.String(),
					logger.KeyBytes, len(payload),
					logger.KeyError, err)
				c.metrics.RecordProtocolViolation(reason)
				c.Kick()
				continue
			}
			c.metrics.RecordFrameReceived(c.nameOf(p), HeaderLen+len(payload))
			queue = append(queue, p)
			continue
		}

		for i, p := range queue {
			if c.IsClosed() {
				break
			}
			c.dispatch(ctx, p)
			queue[i] = nil
		}
		queue = queue[:0]

		c.recv.Optimize()

		n, err := c.socket.Receive(ctx, chunk)
		if n == 0 {
			if err != nil && ctx.Err() == nil {
				logger.DebugCtx(ctx, "Receive ended", logger.KeyError, err)
			}
			break
		}
		c.recv.Enqueue(chunk[:n])
	}
	return nil
}

// decode builds the packet registered for kind from one payload. Request and
// Response payloads start with their 16-byte correlation id.
func (c *Connection) decode(kind packet.ID, payload []byte) (packet.Packet, error) {
	p, ok := c.cfg.Providers.New(kind)
	if !ok {
		return nil, fmt.Errorf("%w: kind %s", packet.ErrUnknownPacket, kind)
	}

	r := packet.NewReader(payload)
	switch v := p.(type) {
	case Request:
		id, err := r.ReadUUID()
		if err != nil {
			return nil, fmt.Errorf("decode request id: %w", err)
		}
		v.SetRequestID(id)
	case Response:
		id, err := r.ReadUUID()
		if err != nil {
			return nil, fmt.Errorf("decode response id: %w", err)
		}
		v.SetInReplyTo(id)
	}

	if err := safely(func() error { return p.Decode(r) }); err != nil {
		return nil, fmt.Errorf("decode %T: %w", p, err)
	}
	return p, nil
}

// dispatch runs one packet through its handler chain. Any failure closes the
// connection.
func (c *Connection) dispatch(ctx context.Context, p packet.Packet) {
	start := time.Now()
	name := c.nameOf(p)

	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithPacket(name))
	ctx, span := telemetry.StartDispatchSpan(ctx, name, telemetry.ConnectionID(c.id))
	defer span.End()

	err := safely(func() error { return c.runHandlers(ctx, p) })
	c.metrics.RecordDispatch(name, time.Since(start), err != nil)
	if err == nil {
		return
	}

	telemetry.RecordError(ctx, err)
	if c.IsClosed() {
		logger.DebugCtx(ctx, "Handler failed on closed connection", logger.KeyError, err)
		return
	}
	var pe *errPanic
	if errors.As(err, &pe) {
		logger.ErrorCtx(ctx, "Handler panicked; closing connection",
			logger.KeyReason, metrics.ViolationHandler,
			"panic", pe.value,
			"stack", string(pe.stack))
	} else {
		logger.WarnCtx(ctx, "Closing connection after handler failure",
			logger.KeyReason, metrics.ViolationHandler,
			logger.KeyError, err)
	}
	c.metrics.RecordProtocolViolation(metrics.ViolationHandler)
	c.Kick()
}

// handleDefault is the last step of every handler chain.
func (c *Connection) handleDefault(ctx context.Context, p packet.Packet) error {
	switch v := p.(type) {
	case Request:
		resp, err := v.Handle(ctx, c)
		if err != nil {
			return err
		}
		if resp == nil {
			return fmt.Errorf("%s: %w", v.RequestID(), ErrNoResponse)
		}
		resp.SetInReplyTo(v.RequestID())
		if err := c.send(ctx, resp); err != nil {
			return fmt.Errorf("reply to %s: %w", v.RequestID(), err)
		}
	case Response:
		c.resolve(ctx, v)
	}
	return nil
}

// errPanic wraps a recovered panic so it can travel as an error.
type errPanic struct {
	value any
	stack []byte
}

func (e *errPanic) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errPanic{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}
