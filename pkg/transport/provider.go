package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/xnet/internal/logger"
)

// ConnectTimeout bounds each individual address attempt made by Connect.
const ConnectTimeout = 30 * time.Second

// Provider creates sockets and servers for one network.
//
// Dial and Listen may return raw errors; callers normally go through
// Connect, ConnectEndpoint and CreateServer, which normalize them.
type Provider interface {
	Name() string
	Dial(ctx context.Context, endpoint netip.AddrPort) (Socket, error)
	Listen(endpoint netip.AddrPort) (Server, error)
}

// Connect resolves host (unless it is an IP literal), shuffles the resolved
// addresses and tries each in turn with an independent ConnectTimeout. The
// first established socket is returned.
//
// Failures are reported as ErrConnectFailed; cancellation of ctx is
// reported as ctx.Err().
func Connect(ctx context.Context, p Provider, host string, port int) (Socket, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrConnectFailed, port)
	}

	addrs, err := resolve(ctx, host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: resolve %q: %w", ErrConnectFailed, host, err)
	}
	rand.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })

	var lastErr error
	for i, addr := range addrs {
		sock, err := dialOne(ctx, p, netip.AddrPortFrom(addr, uint16(port)))
		if err == nil {
			return sock, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Debug("Connect attempt failed",
			logger.KeyNetwork, p.Name(),
			"host", host,
			logger.KeyAddress, addr,
			logger.KeyAttempt, i+1,
			logger.KeyError, err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s:%d: %w", ErrConnectFailed, host, port, lastErr)
}

// ConnectEndpoint dials endpoint directly under ctx.
func ConnectEndpoint(ctx context.Context, p Provider, endpoint netip.AddrPort) (Socket, error) {
	sock, err := p.Dial(ctx, endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, endpoint, err)
	}
	return sock, nil
}

// CreateServer binds a server to endpoint.
func CreateServer(p Provider, endpoint netip.AddrPort) (Server, error) {
	srv, err := p.Listen(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrListenFailed, p.Name(), endpoint, err)
	}
	return srv, nil
}

func dialOne(ctx context.Context, p Provider, endpoint netip.AddrPort) (Socket, error) {
	dctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	return p.Dial(dctx, endpoint)
}

func resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %q", host)
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}
	return addrs, nil
}

// ============================================================================
// Provider table
// ============================================================================

var (
	providersMu sync.RWMutex
	providers   = map[string]Provider{}
)

func init() {
	Register(TCP)
	Register(WebSocket)
}

// Register makes p available to Lookup under p.Name(), replacing any
// provider previously registered under that name.
func Register(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[p.Name()] = p
}

// Lookup returns the provider registered under name.
func Lookup(name string) (Provider, error) {
	providersMu.RLock()
	defer providersMu.RUnlock()

	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func Names() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
