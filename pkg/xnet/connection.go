// Package xnet implements packet connections over a byte-stream socket.
//
// A Connection frames packets with a 20-byte header, decodes inbound frames
// into typed packets, runs them through a handler chain and correlates
// requests with their responses:
//
//	conn := xnet.NewConnection(socket, cfg)
//	go conn.Serve(ctx)
//	<-conn.Ready()
//	resp, err := conn.Execute(ctx, &EchoRequest{Text: "hi"})
//
// Each connection decodes and dispatches its frames sequentially on the
// goroutine running Serve. Emit and Execute are safe for concurrent use.
package xnet

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/internal/telemetry"
	"github.com/marmos91/xnet/pkg/metrics"
	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/stream"
	"github.com/marmos91/xnet/pkg/transport"
)

var connectionSeq atomic.Uint64

// Connection is one framed packet conversation over a Socket.
type Connection struct {
	id        uint64
	socket    transport.Socket
	cfg       *Config
	metrics   metrics.ConnectionMetrics
	createdAt time.Time

	// recv holds bytes received but not yet framed. Only the Serve
	// goroutine touches it.
	recv *stream.Buffer

	// sendSem serializes frame writes.
	sendSem chan struct{}

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*waiter // nil value: tombstone
	newID     func() uuid.UUID

	ready     chan struct{}
	readyOnce sync.Once
	served    atomic.Bool

	values sync.Map
}

// NewConnection wraps socket. Nothing is read until Serve is called.
func NewConnection(socket transport.Socket, cfg *Config) *Connection {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Connection{
		id:        connectionSeq.Add(1),
		socket:    socket,
		cfg:       cfg,
		metrics:   cfg.metrics(),
		createdAt: time.Now(),
		recv:      stream.NewBuffer(cfg.pool()),
		sendSem:   make(chan struct{}, 1),
		pending:   make(map[uuid.UUID]*waiter),
		newID:     uuid.New,
		ready:     make(chan struct{}),
	}
}

// ID returns a process-unique connection number.
func (c *Connection) ID() uint64 { return c.id }

func (c *Connection) RemoteAddr() net.Addr { return c.socket.RemoteAddr() }

func (c *Connection) LocalAddr() net.Addr { return c.socket.LocalAddr() }

// Network returns the transport provider name.
func (c *Connection) Network() string { return c.socket.Network() }

func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Closing is closed once the connection has been kicked or the peer left.
func (c *Connection) Closing() <-chan struct{} { return c.socket.Closing() }

// IsClosed reports whether Closing has fired.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.socket.Closing():
		return true
	default:
		return false
	}
}

// Ready is closed after every greeter has passed the connection on and the
// receive loop is about to start. It never closes for rejected connections.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// Kick closes the connection. It is safe to call any number of times from
// any goroutine.
func (c *Connection) Kick() {
	_ = c.socket.Close()
}

// SetValue attaches per-connection state, typically from a greeter.
func (c *Connection) SetValue(key, value any) { c.values.Store(key, value) }

// Value returns state stored with SetValue, or nil.
func (c *Connection) Value(key any) any {
	v, _ := c.values.Load(key)
	return v
}

// DeleteValue removes state stored with SetValue.
func (c *Connection) DeleteValue(key any) { c.values.Delete(key) }

// PendingRequests returns the number of correlation entries outstanding,
// abandoned ones included.
func (c *Connection) PendingRequests() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s#%d(%s)", c.Network(), c.id, c.RemoteAddr())
}

// Serve runs the greeters and then the receive loop until the connection
// closes or ctx is cancelled. The connection is always closed when Serve
// returns. It returns ErrRejected when a greeter declined the connection,
// the error a greeter failed with, or nil.
//
// Serve may be called only once.
func (c *Connection) Serve(ctx context.Context) (err error) {
	if !c.served.CompareAndSwap(false, true) {
		return fmt.Errorf("xnet: connection %d already serving", c.id)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancelling ctx kicks the connection, and closing the connection
	// cancels the ctx handed to handlers.
	stopKick := context.AfterFunc(ctx, c.Kick)
	defer stopKick()
	go func() {
		select {
		case <-c.Closing():
			cancel()
		case <-ctx.Done():
		}
	}()

	ctx = logger.WithContext(ctx, logger.NewLogContext(c.id, c.Network(), addrString(c.RemoteAddr())))
	logger.DebugCtx(ctx, "Connection serving")

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "Panic while serving connection",
				"panic", r,
				"stack", string(debug.Stack()))
			c.metrics.RecordProtocolViolation(metrics.ViolationHandler)
			err = fmt.Errorf("xnet: panic: %v", r)
		}
		c.teardown(ctx)
	}()

	entered := false
	err = c.greet(ctx, func(ctx context.Context) error {
		entered = true
		c.readyOnce.Do(func() { close(c.ready) })
		return c.receiveLoop(ctx)
	})
	if !entered && err == nil {
		err = ErrRejected
	}
	return err
}

func (c *Connection) greet(ctx context.Context, next Next) error {
	if len(c.cfg.Greeters) == 0 {
		return next(ctx)
	}

	spanCtx, span := telemetry.StartConnectionSpan(ctx, telemetry.SpanGreet,
		telemetry.ConnectionID(c.id),
		telemetry.Network(c.Network()),
		telemetry.RemoteAddr(addrString(c.RemoteAddr())))

	// The span covers the greeters only, not the receive loop they lead to.
	ended := false
	endSpan := func() {
		if !ended {
			ended = true
			span.End()
		}
	}
	defer endSpan()

	err := c.runGreeters(spanCtx, func(context.Context) error {
		endSpan()
		return next(ctx)
	})
	if err != nil {
		telemetry.RecordError(spanCtx, err)
	}
	return err
}

// teardown releases everything the connection holds. Waiting Execute calls
// resolve with ErrClosed.
func (c *Connection) teardown(ctx context.Context) {
	c.Kick()

	c.pendingMu.Lock()
	pending := len(c.pending)
	for id, w := range c.pending {
		if w != nil {
			w.resolve(nil)
		}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.recv.Clear()

	logger.DebugCtx(ctx, "Connection closed",
		logger.KeyPending, pending,
		logger.KeyDurationMs, logger.Duration(c.createdAt))
}

// nameOf returns the registered name of p, falling back to its Go type.
func (c *Connection) nameOf(p packet.Packet) string {
	if id, ok := c.cfg.Providers.LookupID(p); ok {
		if name, ok := c.cfg.Providers.Name(id); ok {
			return name
		}
	}
	return fmt.Sprintf("%T", p)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
