// Package admin serves the HTTP admin API of an xnet process: health probes,
// the live connection table, buffer pool statistics and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/xnet/internal/logger"
)

// Server is the admin HTTP server. It supports graceful shutdown with a
// configurable timeout.
type Server struct {
	server *http.Server
	config Config

	ready    chan struct{}
	addrMu   sync.Mutex
	addr     string
	startErr error

	shutdownOnce sync.Once
}

// NewServer creates a stopped admin server reporting on src. Call Start to
// begin serving.
func NewServer(config Config, src Sources) *Server {
	config.applyDefaults()

	return &Server{
		server: &http.Server{
			Addr:         net.JoinHostPort(config.BindAddress, strconv.Itoa(config.Port)),
			Handler:      NewRouter(src),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config: config,
		ready:  make(chan struct{}),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener cannot be bound or the server fails
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.setAddr("", err)
		return fmt.Errorf("admin server listen on %s: %w", s.server.Addr, err)
	}
	s.setAddr(ln.Addr().String(), nil)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin server listening", logger.Component("admin"), logger.KeyAddress, s.Addr())
		logger.Debug("Admin endpoints available",
			"health", fmt.Sprintf("http://%s/health", s.Addr()),
			"connections", fmt.Sprintf("http://%s/api/v1/connections", s.Addr()),
			"metrics", fmt.Sprintf("http://%s/metrics", s.Addr()),
		)

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Admin server shutdown signal received")
		// The cancelled ctx would abort shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

func (s *Server) setAddr(addr string, err error) {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	select {
	case <-s.ready:
		return
	default:
	}
	s.addr = addr
	s.startErr = err
	close(s.ready)
}

// Stop shuts the server down. It is safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Admin server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown: %w", err)
			logger.Error("Admin server shutdown error", logger.KeyError, err)
		} else {
			logger.Info("Admin server stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr blocks until Start has bound its listener and returns its address.
// It returns "" when binding failed.
func (s *Server) Addr() string {
	<-s.ready
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// WaitReady blocks until the listener is bound and returns the bind error,
// if any.
func (s *Server) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.startErr
}
