// Package demo holds the packets spoken by the xnet CLI: an echo request
// used to measure round trips and a notice the server logs.
package demo

import (
	"context"
	"time"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/xnet"
)

// Prefix namespaces every demo packet name.
const Prefix = "demo."

// EchoRequest asks the peer to send Text back.
type EchoRequest struct {
	xnet.RequestBase
	Text   string
	SentAt time.Time
}

func (*EchoRequest) PacketName() string { return "echo.request" }

func (r *EchoRequest) Encode(w *packet.Writer) error {
	w.WriteString(r.Text)
	w.WriteInt64(r.SentAt.UnixNano())
	return nil
}

func (r *EchoRequest) Decode(rd *packet.Reader) error {
	text, err := rd.ReadString()
	if err != nil {
		return err
	}
	sent, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	r.Text = text
	r.SentAt = time.Unix(0, sent)
	return nil
}

func (r *EchoRequest) Handle(context.Context, *xnet.Connection) (xnet.Response, error) {
	return &EchoResponse{
		Text:       r.Text,
		SentAt:     r.SentAt,
		ReceivedAt: time.Now(),
	}, nil
}

// EchoResponse carries the echoed text and the two timestamps of the trip.
type EchoResponse struct {
	xnet.ResponseBase
	Text       string
	SentAt     time.Time
	ReceivedAt time.Time
}

func (*EchoResponse) PacketName() string { return "echo.response" }

func (r *EchoResponse) Encode(w *packet.Writer) error {
	w.WriteString(r.Text)
	w.WriteInt64(r.SentAt.UnixNano())
	w.WriteInt64(r.ReceivedAt.UnixNano())
	return nil
}

func (r *EchoResponse) Decode(rd *packet.Reader) error {
	text, err := rd.ReadString()
	if err != nil {
		return err
	}
	sent, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	received, err := rd.ReadInt64()
	if err != nil {
		return err
	}
	r.Text = text
	r.SentAt = time.Unix(0, sent)
	r.ReceivedAt = time.Unix(0, received)
	return nil
}

// Notice is a fire-and-forget message.
type Notice struct {
	Text string
}

func (*Notice) PacketName() string { return "notice" }

func (n *Notice) Encode(w *packet.Writer) error {
	w.WriteString(n.Text)
	return nil
}

func (n *Notice) Decode(rd *packet.Reader) (err error) {
	n.Text, err = rd.ReadString()
	return err
}

// OnReceive logs the notice and lets later handlers see it.
func (n *Notice) OnReceive(ctx context.Context, c *xnet.Connection, next xnet.Next) error {
	logger.InfoCtx(ctx, "Notice received", "text", n.Text, logger.KeyRemoteAddr, c.RemoteAddr().String())
	return next(ctx)
}

// Register adds the demo packets to b.
func Register(b *packet.Builder) {
	packet.Map[EchoRequest](b, packet.Prefixed(Prefix))
	packet.Map[EchoResponse](b, packet.Prefixed(Prefix))
	packet.Map[Notice](b, packet.Prefixed(Prefix))
}
