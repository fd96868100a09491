package xnet

import (
	"context"

	"github.com/marmos91/xnet/pkg/packet"
)

// Next continues a chain. Not calling it short-circuits the remaining items.
type Next func(ctx context.Context) error

// Handler processes one decoded packet. Returning an error closes the
// connection.
type Handler interface {
	Handle(ctx context.Context, c *Connection, p packet.Packet, next Next) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Connection, p packet.Packet, next Next) error

func (f HandlerFunc) Handle(ctx context.Context, c *Connection, p packet.Packet, next Next) error {
	return f(ctx, c, p, next)
}

// HandlerFor adapts a function over one concrete packet type. Packets of any
// other type are passed to next untouched.
func HandlerFor[T packet.Packet](fn func(ctx context.Context, c *Connection, p T, next Next) error) Handler {
	return HandlerFunc(func(ctx context.Context, c *Connection, p packet.Packet, next Next) error {
		if typed, ok := p.(T); ok {
			return fn(ctx, c, typed, next)
		}
		return next(ctx)
	})
}

// Greeter runs once per connection before the receive loop. A greeter that
// does not call next rejects the connection.
//
// Greeters must not call Execute: no response can arrive until the receive
// loop starts.
type Greeter interface {
	Greet(ctx context.Context, c *Connection, next Next) error
}

// GreeterFunc adapts a function to Greeter.
type GreeterFunc func(ctx context.Context, c *Connection, next Next) error

func (f GreeterFunc) Greet(ctx context.Context, c *Connection, next Next) error {
	return f(ctx, c, next)
}

// SelfHandler is implemented by packets that process themselves on arrival.
// It runs after the global handlers and the packet's declared handlers.
type SelfHandler interface {
	OnReceive(ctx context.Context, c *Connection, next Next) error
}

// HandlerProvider is implemented by packets that declare additional handlers
// for their type. The returned slice must be the same on every call.
type HandlerProvider interface {
	PacketHandlers() []Handler
}

// chain runs items in order. Item i receives a continuation that runs item
// i+1; the continuation of the last item runs terminal.
type chain[T any] struct {
	items    []T
	invoke   func(ctx context.Context, item T, next Next) error
	terminal Next
}

func (ch *chain[T]) run(ctx context.Context, i int) error {
	if i >= len(ch.items) {
		return ch.terminal(ctx)
	}
	return ch.invoke(ctx, ch.items[i], func(ctx context.Context) error {
		return ch.run(ctx, i+1)
	})
}

// handlersFor returns the chain for p: global handlers, declared handlers,
// then the packet itself.
func (c *Connection) handlersFor(p packet.Packet) []Handler {
	provider, declares := p.(HandlerProvider)
	self, handlesSelf := p.(SelfHandler)
	if !declares && !handlesSelf {
		return c.cfg.Handlers
	}

	var declared []Handler
	if declares {
		declared = provider.PacketHandlers()
	}

	handlers := make([]Handler, 0, len(c.cfg.Handlers)+len(declared)+1)
	handlers = append(handlers, c.cfg.Handlers...)
	handlers = append(handlers, declared...)
	if handlesSelf {
		handlers = append(handlers, HandlerFunc(func(ctx context.Context, c *Connection, _ packet.Packet, next Next) error {
			return self.OnReceive(ctx, c, next)
		}))
	}
	return handlers
}

func (c *Connection) runHandlers(ctx context.Context, p packet.Packet) error {
	ch := chain[Handler]{
		items: c.handlersFor(p),
		invoke: func(ctx context.Context, h Handler, next Next) error {
			return h.Handle(ctx, c, p, next)
		},
		terminal: func(ctx context.Context) error {
			return c.handleDefault(ctx, p)
		},
	}
	return ch.run(ctx, 0)
}

func (c *Connection) runGreeters(ctx context.Context, terminal Next) error {
	ch := chain[Greeter]{
		items: c.cfg.Greeters,
		invoke: func(ctx context.Context, g Greeter, next Next) error {
			return g.Greet(ctx, c, next)
		},
		terminal: terminal,
	}
	return ch.run(ctx, 0)
}
