package heartbeat

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/transport"
	"github.com/marmos91/xnet/pkg/xnet"
)

type fakePeer struct {
	mu     sync.Mutex
	probes int
	kicked bool
}

func (p *fakePeer) Emit(_ context.Context, pkt packet.Packet) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := pkt.(*Ping); ok {
		p.probes++
	}
	return true
}

func (p *fakePeer) Kick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kicked = true
}

func (p *fakePeer) snapshot() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes, p.kicked
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSupervisor() (*Supervisor, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := New(DefaultConfig(), nil)
	s.now = clock.now
	return s, clock
}

// ============================================================================
// Sweep Policy Tests
// ============================================================================

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("SilentPeerProbedThenClosed", func(t *testing.T) {
		s, clock := newTestSupervisor()
		peer := &fakePeer{}
		_, untrack := s.Track(peer)
		defer untrack()

		start := clock.t
		var kickedAfter time.Duration
		for range 60 {
			clock.advance(time.Second)
			s.Sweep(ctx)
			if _, kicked := peer.snapshot(); kicked {
				kickedAfter = clock.t.Sub(start)
				break
			}
		}

		probes, kicked := peer.snapshot()
		require.True(t, kicked)
		assert.Equal(t, 6, probes)
		assert.GreaterOrEqual(t, kickedAfter, 35*time.Second)
		assert.LessOrEqual(t, kickedAfter, 40*time.Second)
	})

	t.Run("ActivePeerNeverProbed", func(t *testing.T) {
		s, clock := newTestSupervisor()
		peer := &fakePeer{}
		touch, untrack := s.Track(peer)
		defer untrack()

		for range 120 {
			clock.advance(time.Second)
			touch()
			s.Sweep(ctx)
		}

		probes, kicked := peer.snapshot()
		assert.Zero(t, probes)
		assert.False(t, kicked)
	})

	t.Run("TrafficResetsMissCounter", func(t *testing.T) {
		s, clock := newTestSupervisor()
		peer := &fakePeer{}
		touch, untrack := s.Track(peer)
		defer untrack()

		// Silent long enough for three probes.
		for range 20 {
			clock.advance(time.Second)
			s.Sweep(ctx)
		}
		probes, _ := peer.snapshot()
		require.Equal(t, 3, probes)

		touch()
		clock.advance(time.Second)
		s.Sweep(ctx)

		// A full new cycle is needed before the connection is closed.
		for range 34 {
			clock.advance(time.Second)
			s.Sweep(ctx)
		}
		_, kicked := peer.snapshot()
		assert.False(t, kicked)
	})

	t.Run("UntrackedPeerIgnored", func(t *testing.T) {
		s, clock := newTestSupervisor()
		peer := &fakePeer{}
		_, untrack := s.Track(peer)
		untrack()

		for range 60 {
			clock.advance(time.Second)
			s.Sweep(ctx)
		}

		probes, kicked := peer.snapshot()
		assert.Zero(t, probes)
		assert.False(t, kicked)
		assert.Zero(t, s.Tracked())
	})

	t.Run("CancelledSweepStops", func(t *testing.T) {
		s, clock := newTestSupervisor()
		peer := &fakePeer{}
		_, untrack := s.Track(peer)
		defer untrack()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		clock.advance(time.Minute)
		s.Sweep(cancelled)

		probes, _ := peer.snapshot()
		assert.Zero(t, probes)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	s := New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

// ============================================================================
// Connection Integration Tests
// ============================================================================

func registry() *packet.Registry {
	b := packet.NewBuilder()
	Register(b)
	return b.Build()
}

func TestPacketNames(t *testing.T) {
	reg := registry()

	id, ok := reg.LookupID(&Ping{})
	require.True(t, ok)
	assert.Equal(t, packet.IDFromName("xnet.ping"), id)

	id, ok = reg.LookupID(&Pong{})
	require.True(t, ok)
	assert.Equal(t, packet.IDFromName("xnet.pong"), id)
}

func TestPingPong(t *testing.T) {
	sup := New(DefaultConfig(), nil)

	pongs := make(chan struct{}, 1)
	clientCfg := &xnet.Config{
		Providers: packet.Providers{registry()},
		Handlers: []xnet.Handler{xnet.HandlerFor(func(ctx context.Context, _ *xnet.Connection, _ *Pong, next xnet.Next) error {
			pongs <- struct{}{}
			return next(ctx)
		})},
	}
	serverCfg := &xnet.Config{
		Providers: packet.Providers{registry()},
		Greeters:  []xnet.Greeter{sup.Greeter()},
		Handlers:  []xnet.Handler{sup.Handler()},
	}

	a, b := net.Pipe()
	client := xnet.NewConnection(transport.NewConnSocket(a, "pipe"), clientCfg)
	server := xnet.NewConnection(transport.NewConnSocket(b, "pipe"), serverCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverDone := make(chan struct{})
	go func() { _ = client.Serve(ctx) }()
	go func() {
		_ = server.Serve(ctx)
		close(serverDone)
	}()
	<-client.Ready()
	<-server.Ready()

	assert.Equal(t, 1, sup.Tracked())

	require.True(t, client.Emit(ctx, &Ping{}))
	select {
	case <-pongs:
	case <-time.After(5 * time.Second):
		t.Fatal("no pong received")
	}

	client.Kick()
	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Zero(t, sup.Tracked())
}
