// Package heartbeat supervises connection liveness.
//
// A Supervisor tracks every connection that passes its Greeter. Its Handler
// records the arrival time of each inbound packet. Once a connection has been
// silent past the idle timeout, Sweep sends it a Ping every probe interval,
// and closes it when more than MaxMissed probes in a row went unanswered.
//
//	sup := heartbeat.New(heartbeat.DefaultConfig(), nil)
//	cfg := &xnet.Config{
//		Greeters: []xnet.Greeter{sup.Greeter()},
//		Handlers: []xnet.Handler{sup.Handler()},
//	}
//	go sup.Run(ctx)
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/pkg/metrics"
	"github.com/marmos91/xnet/pkg/packet"
	"github.com/marmos91/xnet/pkg/xnet"
)

// Config controls the supervision policy.
type Config struct {
	// Interval is the sweep period.
	Interval time.Duration

	// IdleTimeout is how long a connection may stay silent before probing.
	IdleTimeout time.Duration

	// ProbeInterval is the minimum spacing between two probes.
	ProbeInterval time.Duration

	// MaxMissed is how many consecutive probes may go unanswered. The
	// connection is closed at the next action after that.
	MaxMissed int

	// ProbeTimeout bounds the send of one probe.
	ProbeTimeout time.Duration
}

// DefaultConfig sweeps every second, probes after 5s of silence, every 5s,
// and closes after 6 unanswered probes.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Second,
		IdleTimeout:   5 * time.Second,
		ProbeInterval: 5 * time.Second,
		MaxMissed:     5,
		ProbeTimeout:  time.Second,
	}
}

// Peer is the part of a connection the supervisor acts on.
type Peer interface {
	Emit(ctx context.Context, p packet.Packet) bool
	Kick()
}

type state struct {
	peer Peer
	name string

	lastReceive atomic.Int64 // unix nanoseconds

	// Owned by the sweeping goroutine.
	lastAction time.Time
	missed     int
}

func (s *state) touch(now time.Time) { s.lastReceive.Store(now.UnixNano()) }

func (s *state) lastReceived() time.Time { return time.Unix(0, s.lastReceive.Load()) }

// Supervisor enforces liveness over a set of tracked peers.
type Supervisor struct {
	cfg     Config
	metrics metrics.HeartbeatMetrics
	now     func() time.Time

	// sweepMu serializes sweeps; states are only mutated under it.
	sweepMu sync.Mutex

	mu    sync.Mutex
	peers map[*state]struct{}
}

// New creates a supervisor. m may be nil.
func New(cfg Config, m metrics.HeartbeatMetrics) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		peers:   make(map[*state]struct{}),
	}
}

// Track starts supervising p and returns the function that records inbound
// traffic and the function that stops supervision.
func (s *Supervisor) Track(p Peer) (touch func(), untrack func()) {
	st := s.track(p)
	return func() { st.touch(s.now()) }, func() { s.untrack(st) }
}

func (s *Supervisor) track(p Peer) *state {
	st := &state{peer: p, name: fmt.Sprint(p)}
	st.touch(s.now())

	s.mu.Lock()
	s.peers[st] = struct{}{}
	n := len(s.peers)
	s.mu.Unlock()

	s.setTracked(n)
	return st
}

func (s *Supervisor) untrack(st *state) {
	s.mu.Lock()
	delete(s.peers, st)
	n := len(s.peers)
	s.mu.Unlock()

	s.setTracked(n)
}

// Tracked returns the number of supervised peers.
func (s *Supervisor) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

type stateKey struct{}

// Greeter tracks each connection for as long as it serves.
func (s *Supervisor) Greeter() xnet.Greeter {
	return xnet.GreeterFunc(func(ctx context.Context, c *xnet.Connection, next xnet.Next) error {
		st := s.track(c)
		c.SetValue(stateKey{}, st)
		defer func() {
			c.DeleteValue(stateKey{})
			s.untrack(st)
		}()
		return next(ctx)
	})
}

// Handler records inbound traffic. Place it before handlers that may stop
// the chain.
func (s *Supervisor) Handler() xnet.Handler {
	return xnet.HandlerFunc(func(ctx context.Context, c *xnet.Connection, _ packet.Packet, next xnet.Next) error {
		if st, ok := c.Value(stateKey{}).(*state); ok {
			st.touch(s.now())
		}
		return next(ctx)
	})
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logger.Debug("Liveness supervisor started",
		"interval", s.cfg.Interval,
		"idle_timeout", s.cfg.IdleTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every tracked peer once.
func (s *Supervisor) Sweep(ctx context.Context) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	s.mu.Lock()
	snapshot := make([]*state, 0, len(s.peers))
	for st := range s.peers {
		snapshot = append(snapshot, st)
	}
	s.mu.Unlock()

	for _, st := range snapshot {
		if ctx.Err() != nil {
			return
		}
		s.evaluate(ctx, st)
	}
}

func (s *Supervisor) evaluate(ctx context.Context, st *state) {
	now := s.now()

	idle := now.Sub(st.lastReceived())
	if idle < s.cfg.IdleTimeout {
		st.lastAction = now
		st.missed = 0
		return
	}

	if now.Sub(st.lastAction) < s.cfg.ProbeInterval {
		return
	}
	st.lastAction = now

	if st.missed > s.cfg.MaxMissed {
		logger.Info("Closing unresponsive connection",
			logger.Reason("liveness_timeout"),
			logger.KeyRemoteAddr, st.name,
			logger.KeyMissed, st.missed,
			logger.KeyIdle, idle.Round(time.Millisecond).String())
		if s.metrics != nil {
			s.metrics.RecordLivenessTimeout()
		}
		st.peer.Kick()
		return
	}

	st.missed++
	logger.Debug("Probing idle connection",
		logger.KeyRemoteAddr, st.name,
		logger.KeyMissed, st.missed)

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	if s.metrics != nil {
		s.metrics.RecordProbe()
	}
	st.peer.Emit(probeCtx, &Ping{})
}

func (s *Supervisor) setTracked(n int) {
	if s.metrics != nil {
		s.metrics.SetTracked(n)
	}
}
