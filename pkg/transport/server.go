package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/marmos91/xnet/internal/logger"
)

// Server accepts sockets for one network.
type Server interface {
	// Accept blocks until a socket is produced. It returns ErrServerClosed
	// once the server is closed and ctx.Err() when ctx is cancelled; every
	// other accept failure is logged and retried.
	Accept(ctx context.Context) (Socket, error)

	// Close stops accepting. It is idempotent.
	Close() error

	Addr() net.Addr
	Network() string
}

// Accept backoff bounds, matching net/http's temporary-error handling.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptFunc produces one connection or fails; it must honour ctx.
type acceptFunc func(ctx context.Context) (net.Conn, error)

// listenerServer is the Server shared by every provider. Providers supply
// the accept primitive and the close hook.
type listenerServer struct {
	network string
	addr    net.Addr
	accept  acceptFunc
	stop    func() error

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newListenerServer(network string, addr net.Addr, accept acceptFunc, stop func() error) *listenerServer {
	return &listenerServer{
		network: network,
		addr:    addr,
		accept:  accept,
		stop:    stop,
		closing: make(chan struct{}),
	}
}

func (s *listenerServer) Accept(ctx context.Context) (Socket, error) {
	var (
		delay   time.Duration
		attempt int
	)
	for {
		if s.isClosed() {
			return nil, ErrServerClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := s.accept(ctx)
		if err == nil {
			return NewConnSocket(conn, s.network), nil
		}

		if s.isClosed() {
			return nil, ErrServerClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if delay == 0 {
			delay = minAcceptDelay
		} else {
			delay = min(2*delay, maxAcceptDelay)
		}
		attempt++
		logger.Debug("Accept failed, retrying",
			logger.KeyNetwork, s.network,
			logger.KeyAddress, s.addr,
			logger.KeyAttempt, attempt,
			logger.KeyError, err,
			"retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.closing:
			timer.Stop()
			return nil, ErrServerClosed
		}
	}
}

func (s *listenerServer) isClosed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *listenerServer) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.closeErr = s.stop()
	})
	return s.closeErr
}

func (s *listenerServer) Addr() net.Addr { return s.addr }

func (s *listenerServer) Network() string { return s.network }

// deadlineAccept adapts a net.Listener into an acceptFunc. Listeners that
// support SetDeadline are interrupted on cancellation; others only observe
// cancellation between accepts.
func deadlineAccept(ln net.Listener) acceptFunc {
	type deadliner interface {
		SetDeadline(time.Time) error
	}

	return func(ctx context.Context) (net.Conn, error) {
		dl, ok := ln.(deadliner)
		if !ok {
			return ln.Accept()
		}

		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			defer close(fired)
			_ = dl.SetDeadline(aLongTimeAgo)
		})
		defer func() {
			if !stop() {
				<-fired
				_ = dl.SetDeadline(time.Time{})
			}
		}()
		return ln.Accept()
	}
}
