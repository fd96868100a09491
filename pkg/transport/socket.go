// Package transport provides the duplex byte-stream primitives the connection
// engine runs on: Socket (one established stream), Server (a listener) and
// Provider (a dialer/listener factory for one network, such as TCP or
// WebSocket).
//
// Every blocking call races the socket's own closing signal against the
// caller's context. Transient OS errors (interrupted, would-block, I/O pending,
// in-progress, already-in-progress) are retried in place and never surface.
// Any other error closes the socket and reports ErrClosed, except when the
// caller's context caused the abandonment: then ctx.Err() is returned and the
// socket stays usable.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/xnet/internal/logger"
)

// Errors returned by sockets, servers and providers.
var (
	// ErrClosed is returned once a socket has been closed, locally or by a
	// fatal transport error.
	ErrClosed = errors.New("transport: socket closed")

	// ErrServerClosed is returned by Server.Accept after Close.
	ErrServerClosed = errors.New("transport: server closed")

	// ErrConnectFailed wraps every dial failure that is not a cancellation.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrListenFailed wraps every listen failure.
	ErrListenFailed = errors.New("transport: listen failed")

	// ErrUnknownProvider is returned by Lookup for an unregistered network.
	ErrUnknownProvider = errors.New("transport: unknown provider")
)

// Socket is a duplex byte-stream endpoint.
type Socket interface {
	// Receive reads at least one byte into p. It returns 0 with ErrClosed
	// when the stream ended or failed, and 0 with ctx.Err() when ctx was
	// cancelled first.
	Receive(ctx context.Context, p []byte) (int, error)

	// Send writes a prefix of p and reports how much was written, with the
	// same error contract as Receive.
	Send(ctx context.Context, p []byte) (int, error)

	// Closing is closed exactly once, when the socket starts closing.
	Closing() <-chan struct{}

	// Close closes the socket. It is idempotent.
	Close() error

	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// Network names the provider that created the socket ("tcp", "ws").
	Network() string
}

// aLongTimeAgo is a deadline in the past, used to abort a blocked call.
var aLongTimeAgo = time.Unix(1, 0)

// ConnSocket adapts a net.Conn to Socket.
type ConnSocket struct {
	conn    net.Conn
	network string

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConnSocket wraps an established connection.
func NewConnSocket(conn net.Conn, network string) *ConnSocket {
	return &ConnSocket{
		conn:    conn,
		network: network,
		closing: make(chan struct{}),
	}
}

func (s *ConnSocket) Receive(ctx context.Context, p []byte) (int, error) {
	return s.do(ctx, p, s.conn.Read, s.conn.SetReadDeadline)
}

func (s *ConnSocket) Send(ctx context.Context, p []byte) (int, error) {
	return s.do(ctx, p, s.conn.Write, s.conn.SetWriteDeadline)
}

// do runs one read or write, retrying transient errors. Caller cancellation
// interrupts the blocked call by moving its deadline into the past.
func (s *ConnSocket) do(ctx context.Context, p []byte, op func([]byte) (int, error), setDeadline func(time.Time) error) (int, error) {
	if s.IsClosed() {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = setDeadline(aLongTimeAgo)
	})
	defer func() {
		if !stop() {
			<-fired
			_ = setDeadline(time.Time{})
		}
	}()

	for {
		n, err := op(p)
		if n > 0 {
			return n, nil
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if isTransient(err) {
			continue
		}

		if !s.IsClosed() && !isExpectedClose(err) {
			logger.Debug("Socket failed",
				logger.KeyNetwork, s.network,
				logger.KeyRemoteAddr, s.RemoteAddr(),
				logger.KeyError, err)
		}
		_ = s.Close()
		return 0, ErrClosed
	}
}

// Closing returns the channel closed when the socket starts closing.
func (s *ConnSocket) Closing() <-chan struct{} { return s.closing }

// IsClosed reports whether Close has been called.
func (s *ConnSocket) IsClosed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// Close signals closing and closes the underlying connection once.
func (s *ConnSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *ConnSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *ConnSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *ConnSocket) Network() string { return s.network }

// isExpectedClose reports errors that merely mean the peer or we hung up.
func isExpectedClose(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
