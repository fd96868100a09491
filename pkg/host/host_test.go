package host

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/xnet/internal/demo"
	"github.com/marmos91/xnet/pkg/metrics"
	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/xnet"
)

// ============================================================================
// Test Helpers
// ============================================================================

func connConfig() *xnet.Config {
	b := packet.NewBuilder()
	demo.Register(b)
	return &xnet.Config{Providers: packet.Providers{b.Build()}}
}

type countingMetrics struct {
	mu          sync.Mutex
	accepted    int
	closed      int
	forceClosed int
	rejected    int
	active      int32
}

func (m *countingMetrics) RecordConnectionAccepted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted++
}

func (m *countingMetrics) RecordConnectionClosed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *countingMetrics) RecordConnectionForceClosed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forceClosed++
}

func (m *countingMetrics) RecordConnectionRejected(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func (m *countingMetrics) SetActiveConnections(_ string, n int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *countingMetrics) get() (accepted, closed, forceClosed, rejected int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted, m.closed, m.forceClosed, m.rejected
}

type running struct {
	srv  *Server
	done chan error
	host string
	port int
}

func startServer(t *testing.T, cfg ServerConfig, m *countingMetrics) *running {
	t.Helper()

	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 200 * time.Millisecond
	}

	var sm metrics.ServerMetrics
	if m != nil {
		sm = m
	}
	srv, err := NewServer(cfg, connConfig(), sm)
	require.NoError(t, err)

	r := &running{srv: srv, done: make(chan error, 1)}
	go func() { r.done <- srv.Serve(context.Background()) }()

	addr := srv.Addr()
	require.NotEmpty(t, addr)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	r.host = host
	r.port, err = strconv.Atoi(portStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return r
}

func newClient(t *testing.T, network string) *Client {
	t.Helper()
	c, err := NewClient(network, connConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func echo(t *testing.T, conn *xnet.Connection, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := conn.Execute(ctx, &demo.EchoRequest{Text: text, SentAt: time.Now()})
	require.NoError(t, err)
	require.IsType(t, &demo.EchoResponse{}, resp)
	assert.Equal(t, text, resp.(*demo.EchoResponse).Text)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}

// ============================================================================
// Server Tests
// ============================================================================

func TestServer(t *testing.T) {
	t.Run("ServesEchoOverTCP", func(t *testing.T) {
		m := &countingMetrics{}
		r := startServer(t, ServerConfig{Network: "tcp"}, m)
		c := newClient(t, "tcp")

		conn, err := c.Dial(context.Background(), r.host, r.port)
		require.NoError(t, err)
		echo(t, conn, "over tcp")

		eventually(t, func() bool { return r.srv.ActiveConnections() == 1 })
		accepted, _, _, _ := m.get()
		assert.Equal(t, 1, accepted)

		conn.Kick()
		eventually(t, func() bool { return r.srv.ActiveConnections() == 0 })
		eventually(t, func() bool {
			_, closed, _, _ := m.get()
			return closed == 1
		})
	})

	t.Run("ServesEchoOverWebSocket", func(t *testing.T) {
		r := startServer(t, ServerConfig{Network: "ws"}, nil)
		c := newClient(t, "ws")

		conn, err := c.Dial(context.Background(), r.host, r.port)
		require.NoError(t, err)
		echo(t, conn, "over websocket")
	})

	t.Run("ConnectionsListedInOrder", func(t *testing.T) {
		r := startServer(t, ServerConfig{Network: "tcp"}, nil)
		c := newClient(t, "tcp")

		for range 3 {
			conn, err := c.Dial(context.Background(), r.host, r.port)
			require.NoError(t, err)
			echo(t, conn, "hello")
		}

		eventually(t, func() bool { return len(r.srv.Connections()) == 3 })
		conns := r.srv.Connections()
		for i := 1; i < len(conns); i++ {
			assert.Less(t, conns[i-1].ID(), conns[i].ID())
		}
	})

	t.Run("RejectsPastMaxConnections", func(t *testing.T) {
		m := &countingMetrics{}
		r := startServer(t, ServerConfig{Network: "tcp", MaxConnections: 1}, m)
		c := newClient(t, "tcp")

		first, err := c.Dial(context.Background(), r.host, r.port)
		require.NoError(t, err)
		echo(t, first, "first")

		second, err := c.Dial(context.Background(), r.host, r.port)
		require.NoError(t, err)
		select {
		case <-second.Closing():
		case <-time.After(5 * time.Second):
			t.Fatal("connection past the limit was not closed")
		}

		_, _, _, rejected := m.get()
		assert.Equal(t, 1, rejected)
		echo(t, first, "still served")
	})

	t.Run("StopWithoutConnections", func(t *testing.T) {
		srv, err := NewServer(ServerConfig{Network: "tcp", BindAddress: "127.0.0.1", ShutdownTimeout: time.Second}, connConfig(), nil)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- srv.Serve(context.Background()) }()
		require.NotEmpty(t, srv.Addr())

		require.NoError(t, srv.Stop(context.Background()))
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return")
		}
	})

	t.Run("ShutdownTimeoutForcesClosure", func(t *testing.T) {
		m := &countingMetrics{}
		srv, err := NewServer(ServerConfig{
			Network:         "tcp",
			BindAddress:     "127.0.0.1",
			ShutdownTimeout: 50 * time.Millisecond,
		}, connConfig(), m)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- srv.Serve(ctx) }()

		endpoint, err := netip.ParseAddrPort(srv.Addr())
		require.NoError(t, err)
		c := newClient(t, "tcp")
		conn, err := c.DialEndpoint(context.Background(), endpoint)
		require.NoError(t, err)
		echo(t, conn, "before shutdown")

		cancel()
		select {
		case err := <-done:
			assert.Error(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return")
		}

		_, _, forceClosed, _ := m.get()
		assert.Equal(t, 1, forceClosed)
		select {
		case <-conn.Closing():
		case <-time.After(5 * time.Second):
			t.Fatal("client side was not closed")
		}
	})

	t.Run("SecondServeFails", func(t *testing.T) {
		r := startServer(t, ServerConfig{Network: "tcp"}, nil)
		assert.ErrorIs(t, r.srv.Serve(context.Background()), ErrAlreadyServing)
	})

	t.Run("UnknownNetwork", func(t *testing.T) {
		_, err := NewServer(ServerConfig{Network: "carrier-pigeon"}, connConfig(), nil)
		assert.Error(t, err)
	})
}

func TestBindEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		port    int
		want    string
		wantErr bool
	}{
		{"EmptyBindsAll", "", 9000, "0.0.0.0:9000", false},
		{"IPv4Literal", "127.0.0.1", 0, "127.0.0.1:0", false},
		{"IPv6Literal", "::1", 80, "[::1]:80", false},
		{"MappedIPv4Unmapped", "::ffff:10.0.0.1", 1, "10.0.0.1:1", false},
		{"PortOutOfRange", "127.0.0.1", 70000, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bindEndpoint(context.Background(), tt.host, tt.port)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

// ============================================================================
// Client Tests
// ============================================================================

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestClient(t *testing.T) {
	t.Run("QueuedDialInvokesCallback", func(t *testing.T) {
		r := startServer(t, ServerConfig{Network: "tcp"}, nil)
		c := newClient(t, "tcp")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = c.Run(ctx) }()

		got := make(chan *xnet.Connection, 1)
		require.True(t, c.Enqueue(ctx, DialRequest{
			Host:     r.host,
			Port:     r.port,
			Callback: func(conn *xnet.Connection) { got <- conn },
		}))

		select {
		case conn := <-got:
			require.NotNil(t, conn)
			echo(t, conn, "queued")
		case <-time.After(5 * time.Second):
			t.Fatal("callback not invoked")
		}
	})

	t.Run("FailedDialInvokesCallbackWithNil", func(t *testing.T) {
		c := newClient(t, "tcp")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = c.Run(ctx) }()

		got := make(chan *xnet.Connection, 1)
		require.True(t, c.Enqueue(ctx, DialRequest{
			Endpoint: netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(closedPort(t))),
			Callback: func(conn *xnet.Connection) { got <- conn },
		}))

		select {
		case conn := <-got:
			assert.Nil(t, conn)
		case <-time.After(10 * time.Second):
			t.Fatal("callback not invoked")
		}
	})

	t.Run("EmptyRequestFails", func(t *testing.T) {
		c := newClient(t, "tcp")
		_, err := c.dial(context.Background(), DialRequest{})
		assert.Error(t, err)
	})

	t.Run("StoppedWorkerFailsQueuedRequests", func(t *testing.T) {
		c := newClient(t, "tcp")

		var mu sync.Mutex
		var results []*xnet.Connection
		for range 3 {
			require.True(t, c.Enqueue(context.Background(), DialRequest{
				Host: "127.0.0.1",
				Port: 1,
				Callback: func(conn *xnet.Connection) {
					mu.Lock()
					defer mu.Unlock()
					results = append(results, conn)
				},
			}))
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, c.Run(ctx), context.Canceled)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, results, 3)
		for _, conn := range results {
			assert.Nil(t, conn)
		}
	})

	t.Run("EnqueueAfterCloseFails", func(t *testing.T) {
		c := newClient(t, "tcp")
		require.NoError(t, c.Close())

		ok := c.Enqueue(context.Background(), DialRequest{Host: "127.0.0.1", Port: 1})
		assert.False(t, ok)
		_, err := c.Dial(context.Background(), "127.0.0.1", 1)
		assert.ErrorIs(t, err, ErrClientClosed)
	})

	t.Run("CloseKicksConnections", func(t *testing.T) {
		r := startServer(t, ServerConfig{Network: "tcp"}, nil)
		c := newClient(t, "tcp")

		conn, err := c.Dial(context.Background(), r.host, r.port)
		require.NoError(t, err)
		require.NoError(t, c.Close())
		assert.True(t, conn.IsClosed())
		eventually(t, func() bool { return r.srv.ActiveConnections() == 0 })
	})
}
