package admin

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/xnet/internal/demo"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/host"
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

// startHost runs a loopback packet server and dials n connections to it.
func startHost(t *testing.T, n int) (*host.Server, []*xnet.Connection) {
	t.Helper()

	srv, err := host.NewServer(host.ServerConfig{
		Network:         "tcp",
		BindAddress:     "127.0.0.1",
		ShutdownTimeout: 200 * time.Millisecond,
	}, connConfig(), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		<-done
	})

	client, err := host.NewClient("tcp", connConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	var conns []*xnet.Connection
	for range n {
		conn, err := client.Dial(context.Background(), "127.0.0.1", port)
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool { return int(srv.ActiveConnections()) == n },
		5*time.Second, 5*time.Millisecond)
	return srv, conns
}

func get(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

// ============================================================================
// Health Tests
// ============================================================================

func TestHealth(t *testing.T) {
	t.Run("LivenessWithoutHost", func(t *testing.T) {
		w, resp := get(t, NewRouter(Sources{}), http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", resp.Status)

		data := resp.Data.(map[string]any)
		assert.Equal(t, "xnet", data["service"])
		assert.NotContains(t, data, "active_connections")
	})

	t.Run("ReadinessWithoutHost", func(t *testing.T) {
		w, resp := get(t, NewRouter(Sources{}), http.MethodGet, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("ReadinessWithHost", func(t *testing.T) {
		srv, _ := startHost(t, 1)
		w, resp := get(t, NewRouter(Sources{Host: srv}), http.MethodGet, "/health/ready")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), resp.Data.(map[string]any)["active_connections"])
	})

	t.Run("RootRedirects", func(t *testing.T) {
		w, _ := get(t, NewRouter(Sources{}), http.MethodGet, "/")
		assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
		assert.Equal(t, "/health", w.Header().Get("Location"))
	})
}

// ============================================================================
// Connection Tests
// ============================================================================

func TestConnections(t *testing.T) {
	t.Run("EmptyWithoutHost", func(t *testing.T) {
		w, _ := get(t, NewRouter(Sources{}), http.MethodGet, "/api/v1/connections")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decodeData[[]ConnectionInfo](t, w))
	})

	t.Run("ListsLiveConnections", func(t *testing.T) {
		srv, _ := startHost(t, 2)
		w, _ := get(t, NewRouter(Sources{Host: srv}), http.MethodGet, "/api/v1/connections")
		require.Equal(t, http.StatusOK, w.Code)

		infos := decodeData[[]ConnectionInfo](t, w)
		require.Len(t, infos, 2)
		assert.Less(t, infos[0].ID, infos[1].ID)
		for _, info := range infos {
			assert.Equal(t, "tcp", info.Network)
			assert.Contains(t, info.Remote, "127.0.0.1:")
			assert.NotEmpty(t, info.Age)
			assert.False(t, info.Since.IsZero())
		}
	})

	t.Run("GetByID", func(t *testing.T) {
		srv, _ := startHost(t, 1)
		id := srv.Connections()[0].ID()

		w, _ := get(t, NewRouter(Sources{Host: srv}), http.MethodGet,
			"/api/v1/connections/"+strconv.FormatUint(id, 10))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, id, decodeData[ConnectionInfo](t, w).ID)
	})

	t.Run("UnknownID", func(t *testing.T) {
		srv, _ := startHost(t, 1)
		w, resp := get(t, NewRouter(Sources{Host: srv}), http.MethodGet, "/api/v1/connections/999999")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "error", resp.Status)
	})

	t.Run("MalformedID", func(t *testing.T) {
		w, _ := get(t, NewRouter(Sources{}), http.MethodGet, "/api/v1/connections/abc")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("KickClosesBothEnds", func(t *testing.T) {
		srv, conns := startHost(t, 1)
		id := srv.Connections()[0].ID()

		w, _ := get(t, NewRouter(Sources{Host: srv}), http.MethodDelete,
			"/api/v1/connections/"+strconv.FormatUint(id, 10))
		assert.Equal(t, http.StatusNoContent, w.Code)

		select {
		case <-conns[0].Closing():
		case <-time.After(5 * time.Second):
			t.Fatal("client side was not closed")
		}
		assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 },
			5*time.Second, 5*time.Millisecond)
	})
}

// ============================================================================
// Pool and Metrics Tests
// ============================================================================

func TestPoolStats(t *testing.T) {
	pool := bufpool.NewPool(nil)
	pool.Put(pool.Get(bufpool.ChunkSize))
	_ = pool.Get(bufpool.ChunkSize)

	w, _ := get(t, NewRouter(Sources{Pool: pool}), http.MethodGet, "/api/v1/pool")
	require.Equal(t, http.StatusOK, w.Code)

	stats := decodeData[[]bufpool.ClassStats](t, w)
	require.NotEmpty(t, stats)
	assert.Equal(t, bufpool.ChunkSize, stats[0].Size)
	assert.Equal(t, uint64(1), stats[0].Hits)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("DisabledAnswers404", func(t *testing.T) {
		if metrics.IsEnabled() {
			t.Skip("registry already initialized")
		}
		w, _ := get(t, NewRouter(Sources{}), http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("EnabledServesRegistry", func(t *testing.T) {
		metrics.InitRegistry()
		w, _ := get(t, NewRouter(Sources{}), http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})
}

// ============================================================================
// Server Lifecycle Tests
// ============================================================================

func TestServerLifecycle(t *testing.T) {
	s := NewServer(Config{BindAddress: "127.0.0.1"}, Sources{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.NoError(t, s.WaitReady(context.Background()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"healthy"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not stop")
	}

	assert.NoError(t, s.Stop(context.Background()))
}

func TestServerBindFailure(t *testing.T) {
	first := NewServer(Config{BindAddress: "127.0.0.1"}, Sources{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = first.Start(ctx) }()
	require.NoError(t, first.WaitReady(context.Background()))

	_, portStr, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	second := NewServer(Config{BindAddress: "127.0.0.1", Port: port}, Sources{})
	assert.Error(t, second.Start(context.Background()))
	assert.Error(t, second.WaitReady(context.Background()))
	assert.Empty(t, second.Addr())
}
