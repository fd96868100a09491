package heartbeat

import (
	"context"

	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/xnet"
)

// Ping is a liveness probe. The receiver answers it with a Pong.
type Ping struct{}

func (*Ping) PacketName() string { return "xnet.ping" }
func (*Ping) Encode(*packet.Writer) error { return nil }
func (*Ping) Decode(*packet.Reader) error { return nil }

// OnReceive answers the probe and ends the chain.
func (*Ping) OnReceive(ctx context.Context, c *xnet.Connection, _ xnet.Next) error {
	c.Emit(ctx, &Pong{})
	return nil
}

// Pong answers a Ping. Its arrival is all that matters.
type Pong struct{}

func (*Pong) PacketName() string { return "xnet.pong" }
func (*Pong) Encode(*packet.Writer) error { return nil }
func (*Pong) Decode(*packet.Reader) error { return nil }

func (*Pong) OnReceive(context.Context, *xnet.Connection, xnet.Next) error {
	return nil
}

// Register adds Ping and Pong to b.
func Register(b *packet.Builder) {
	packet.Map[Ping](b)
	packet.Map[Pong](b)
}
