// Package host runs xnet connections on behalf of an application: a Server
// accepts sockets from a transport provider and a Client dials them, and both
// launch an xnet.Connection for every socket they obtain.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/pkg/metrics"
	"github.com/marmos91/xnet/pkg/transport"
	"github.com/marmos91/xnet/pkg/xnet"
)

// ErrAlreadyServing is returned by a second call to Server.Serve.
var ErrAlreadyServing = errors.New("host: server already serving")

// ServerConfig holds the listener and lifecycle settings of a Server.
type ServerConfig struct {
	// Network names the transport provider ("tcp", "ws").
	Network string

	// BindAddress is the IP address or host name to bind to.
	// Empty binds to all IPv4 interfaces.
	BindAddress string

	// Port to listen on. 0 picks a free port; see Server.Addr.
	Port int

	// MaxConnections limits concurrent connections. Sockets accepted past
	// the limit are closed immediately. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout is how long Stop waits for peers to disconnect
	// before closing the remaining connections.
	ShutdownTimeout time.Duration

	// MetricsLogInterval is the period of the active connection log line.
	// 0 disables it.
	MetricsLogInterval time.Duration
}

// Server accepts sockets and serves an xnet.Connection on each.
//
// Shutdown has two phases. The listener is closed first and connections
// get ShutdownTimeout to end on their own; whatever is left is then kicked.
// All exported methods are safe for concurrent use.
type Server struct {
	cfg      ServerConfig
	connCfg  *xnet.Config
	metrics  metrics.ServerMetrics
	provider transport.Provider

	listenerMu sync.RWMutex
	listener   transport.Server
	ready      chan struct{}
	serving    atomic.Bool

	shutdown     chan struct{}
	shutdownOnce sync.Once

	// connCtx is handed to every connection; cancelling it kicks them all.
	connCtx     context.Context
	cancelConns context.CancelFunc

	activeConns sync.WaitGroup
	connCount   atomic.Int32
	connSem     chan struct{}
	active      sync.Map // connection id -> *xnet.Connection
}

// NewServer creates a stopped server. m may be nil.
func NewServer(cfg ServerConfig, connCfg *xnet.Config, m metrics.ServerMetrics) (*Server, error) {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	provider, err := transport.Lookup(cfg.Network)
	if err != nil {
		return nil, err
	}

	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
		logger.Debug("Connection limit", logger.KeyNetwork, cfg.Network, "max_connections", cfg.MaxConnections)
	} else {
		logger.Debug("Connection limit", logger.KeyNetwork, cfg.Network, "max_connections", "unlimited")
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		connCfg:     connCfg,
		metrics:     m,
		provider:    provider,
		ready:       make(chan struct{}),
		shutdown:    make(chan struct{}),
		connCtx:     connCtx,
		cancelConns: cancel,
		connSem:     sem,
	}, nil
}

// Serve binds the listener and accepts until ctx is cancelled or Stop is
// called, then shuts down. It returns nil when every connection ended within
// ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}

	endpoint, err := bindEndpoint(ctx, s.cfg.BindAddress, s.cfg.Port)
	if err != nil {
		return err
	}
	ln, err := transport.CreateServer(s.provider, endpoint)
	if err != nil {
		return err
	}

	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	close(s.ready)

	logger.Info("Server listening",
		logger.Component("server"),
		logger.KeyNetwork, s.cfg.Network,
		logger.KeyAddress, ln.Addr().String())

	// Stop may have run before the listener existed.
	select {
	case <-s.shutdown:
		_ = ln.Close()
	default:
	}

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Server shutdown signal received", logger.KeyNetwork, s.cfg.Network, logger.KeyError, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.cfg.MetricsLogInterval > 0 {
		go s.logMetrics()
	}

	for {
		sock, err := ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrServerClosed) || ctx.Err() != nil {
				s.initiateShutdown()
				return s.gracefulShutdown()
			}
			logger.Warn("Accept failed", logger.KeyNetwork, s.cfg.Network, logger.KeyError, err)
			continue
		}
		s.launch(sock)
	}
}

func (s *Server) launch(sock transport.Socket) {
	network := s.cfg.Network

	select {
	case <-s.shutdown:
		_ = sock.Close()
		return
	default:
	}

	if s.connSem != nil {
		select {
		case s.connSem <- struct{}{}:
		default:
			logger.Debug("Connection rejected at limit",
				logger.KeyRemoteAddr, addrString(sock.RemoteAddr()),
				logger.KeyActive, s.connCount.Load())
			if s.metrics != nil {
				s.metrics.RecordConnectionRejected(network)
			}
			_ = sock.Close()
			return
		}
	}

	conn := xnet.NewConnection(sock, s.connCfg)

	s.activeConns.Add(1)
	current := s.connCount.Add(1)
	s.active.Store(conn.ID(), conn)

	if s.metrics != nil {
		s.metrics.RecordConnectionAccepted(network)
		s.metrics.SetActiveConnections(network, current)
	}
	logger.Debug("Connection accepted",
		logger.KeyConnectionID, conn.ID(),
		logger.KeyRemoteAddr, addrString(sock.RemoteAddr()),
		logger.KeyActive, current)

	go func() {
		defer func() {
			s.active.Delete(conn.ID())
			s.activeConns.Done()
			remaining := s.connCount.Add(-1)
			if s.connSem != nil {
				<-s.connSem
			}
			if s.metrics != nil {
				s.metrics.RecordConnectionClosed(network)
				s.metrics.SetActiveConnections(network, remaining)
			}
		}()

		if err := conn.Serve(s.connCtx); err != nil {
			logger.Debug("Connection ended", logger.KeyConnectionID, conn.ID(), logger.KeyError, err)
		}
	}()
}

// initiateShutdown stops accepting. Safe to call any number of times.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Server shutdown initiated", logger.KeyNetwork, s.cfg.Network)
		close(s.shutdown)

		s.listenerMu.RLock()
		ln := s.listener
		s.listenerMu.RUnlock()
		if ln != nil {
			if err := ln.Close(); err != nil {
				logger.Debug("Error closing listener", logger.KeyError, err)
			}
		}
	})
}

// gracefulShutdown waits up to ShutdownTimeout for the connections to end,
// then kicks the rest.
func (s *Server) gracefulShutdown() error {
	remaining := s.connCount.Load()
	logger.Info("Graceful shutdown: waiting for active connections",
		logger.KeyActive, remaining,
		"timeout", s.cfg.ShutdownTimeout)

	done := s.drained()
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.cancelConns()
		logger.Info("Graceful shutdown complete: all connections closed")
		return nil

	case <-timer.C:
		remaining = s.connCount.Load()
		logger.Warn("Shutdown timeout exceeded, forcing closure",
			logger.KeyActive, remaining,
			"timeout", s.cfg.ShutdownTimeout)
		s.forceCloseConnections()
		<-done
		return fmt.Errorf("host: shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *Server) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

func (s *Server) forceCloseConnections() {
	closed := 0
	s.active.Range(func(_, value any) bool {
		conn := value.(*xnet.Connection)
		if !conn.IsClosed() {
			conn.Kick()
			closed++
			if s.metrics != nil {
				s.metrics.RecordConnectionForceClosed(s.cfg.Network)
			}
		}
		return true
	})
	s.cancelConns()

	if closed > 0 {
		logger.Info("Force-closed connections", "count", closed)
	}
}

// Stop initiates shutdown and waits for every connection to end or for
// ctx to expire. Connections still open when ctx expires are kicked.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	done := s.drained()
	select {
	case <-done:
		s.cancelConns()
		return nil
	case <-ctx.Done():
		logger.Warn("Server stop context expired",
			logger.KeyActive, s.connCount.Load(),
			logger.KeyError, ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

func (s *Server) logMetrics() {
	ticker := time.NewTicker(s.cfg.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("Server metrics",
				logger.KeyNetwork, s.cfg.Network,
				"active_connections", s.connCount.Load())
		}
	}
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Connections returns the connections being served, oldest first.
func (s *Server) Connections() []*xnet.Connection {
	var conns []*xnet.Connection
	s.active.Range(func(_, value any) bool {
		conns = append(conns, value.(*xnet.Connection))
		return true
	})
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// Addr blocks until the listener is bound and returns its address. It
// returns "" if the server stopped before binding.
func (s *Server) Addr() string {
	select {
	case <-s.ready:
	case <-s.shutdown:
	}

	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Network returns the transport provider name.
func (s *Server) Network() string {
	return s.cfg.Network
}

func bindEndpoint(ctx context.Context, host string, port int) (netip.AddrPort, error) {
	if port < 0 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("host: invalid port %d", port)
	}
	if host == "" {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port)), nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("host: resolve bind address %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("host: no addresses for %q", host)
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), uint16(port)), nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
