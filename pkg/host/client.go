package host

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/pkg/transport"
	"github.com/marmos91/xnet/pkg/xnet"
)

// DialQueueSize bounds the requests waiting for the dial worker.
const DialQueueSize = 32

// ErrClientClosed is returned once Close has been called.
var ErrClientClosed = errors.New("host: client closed")

// DialRequest describes one outbound connection. Endpoint, when valid,
// takes precedence over Host.
type DialRequest struct {
	Host     string
	Endpoint netip.AddrPort
	Port     int

	// Callback receives the connection once its greeters have passed, or
	// nil when the dial or the greeting failed. It runs on the dial worker
	// goroutine and must not block.
	Callback func(*xnet.Connection)
}

// Client dials sockets through one transport provider and serves an
// xnet.Connection on each. Requests queued with Enqueue are dialed one at
// a time by Run; Dial is the synchronous form.
type Client struct {
	provider transport.Provider
	connCfg  *xnet.Config
	queue    chan DialRequest

	// ctx bounds every connection the client launched.
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// NewClient creates a client for the named transport provider.
func NewClient(network string, connCfg *xnet.Config) (*Client, error) {
	if network == "" {
		network = "tcp"
	}
	provider, err := transport.Lookup(network)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		provider: provider,
		connCfg:  connCfg,
		queue:    make(chan DialRequest, DialQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Enqueue hands req to the dial worker. It blocks while the queue is full
// and reports false if ctx ends or the client closes first.
func (c *Client) Enqueue(ctx context.Context, req DialRequest) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.queue <- req:
		return true
	case <-ctx.Done():
		return false
	case <-c.ctx.Done():
		return false
	}
}

// Run dials queued requests until ctx is cancelled or the client closes.
// Requests still queued at that point get a nil callback.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	defer c.failQueued()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.queue:
			conn, err := c.dial(ctx, req)
			if err != nil {
				logger.Debug("Dial request failed",
					logger.KeyComponent, "client",
					"host", req.Host,
					logger.KeyAddress, req.Endpoint.String(),
					logger.KeyError, err)
				invoke(req.Callback, nil)
				continue
			}
			invoke(req.Callback, conn)
		}
	}
}

func (c *Client) failQueued() {
	for {
		select {
		case req := <-c.queue:
			invoke(req.Callback, nil)
		default:
			return
		}
	}
}

// Dial connects to host:port and waits for the greeters to pass. ctx bounds
// the dial and the greeting only; the connection then lives until it is
// kicked, the peer leaves or the client closes.
func (c *Client) Dial(ctx context.Context, host string, port int) (*xnet.Connection, error) {
	return c.dial(ctx, DialRequest{Host: host, Port: port})
}

// DialEndpoint is Dial without name resolution.
func (c *Client) DialEndpoint(ctx context.Context, endpoint netip.AddrPort) (*xnet.Connection, error) {
	return c.dial(ctx, DialRequest{Endpoint: endpoint})
}

func (c *Client) dial(ctx context.Context, req DialRequest) (*xnet.Connection, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClientClosed
	}

	dctx, cancel := context.WithTimeout(ctx, transport.ConnectTimeout)
	defer cancel()

	var (
		sock transport.Socket
		err  error
	)
	if req.Endpoint.IsValid() {
		sock, err = transport.ConnectEndpoint(dctx, c.provider, req.Endpoint)
	} else {
		if req.Host == "" {
			return nil, errors.New("host: dial request without host or endpoint")
		}
		sock, err = transport.Connect(dctx, c.provider, req.Host, req.Port)
	}
	if err != nil {
		return nil, err
	}

	return c.launch(ctx, sock)
}

func (c *Client) launch(ctx context.Context, sock transport.Socket) (*xnet.Connection, error) {
	conn := xnet.NewConnection(sock, c.connCfg)

	served := make(chan error, 1)
	c.conns.Add(1)
	go func() {
		defer c.conns.Done()
		served <- conn.Serve(c.ctx)
	}()

	select {
	case <-conn.Ready():
		return conn, nil
	case err := <-served:
		select {
		case <-conn.Ready():
			return conn, nil
		default:
		}
		if err == nil {
			err = xnet.ErrRejected
		}
		return nil, err
	case <-ctx.Done():
		conn.Kick()
		return nil, ctx.Err()
	}
}

// Close kicks every connection the client launched and waits for them.
func (c *Client) Close() error {
	c.cancel()
	c.conns.Wait()
	return nil
}

func invoke(cb func(*xnet.Connection), conn *xnet.Connection) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Dial callback panicked", "panic", r)
		}
	}()
	cb(conn)
}
