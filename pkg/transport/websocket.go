package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marmos91/xnet/internal/logger"
)

const (
	// WebSocketPath is the HTTP path the WebSocket provider upgrades on.
	WebSocketPath = "/xnet"

	// ChunkSizeHint sizes the WebSocket I/O buffers.
	ChunkSizeHint = 4096
)

// WebSocket carries the byte stream inside binary WebSocket messages,
// registered as "ws". Message boundaries are not significant: the receiver
// sees one continuous stream.
//
// gorilla/websocket treats any read or write error, including a deadline
// hit, as permanent. A Receive abandoned through its context therefore
// leaves the socket unusable for further reads.
var WebSocket Provider = wsProvider{}

type wsProvider struct{}

func (wsProvider) Name() string { return "ws" }

func (wsProvider) Dial(ctx context.Context, endpoint netip.AddrPort) (Socket, error) {
	url := "ws://" + endpoint.String() + WebSocketPath
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewConnSocket(newWSConn(ws), "ws"), nil
}

func (wsProvider) Listen(endpoint netip.AddrPort) (Server, error) {
	ln, err := net.Listen("tcp", endpoint.String())
	if err != nil {
		return nil, err
	}

	conns := make(chan net.Conn)
	done := make(chan struct{})
	upgrader := websocket.Upgrader{
		ReadBufferSize:  ChunkSizeHint,
		WriteBufferSize: ChunkSizeHint,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("WebSocket upgrade failed", logger.KeyRemoteAddr, r.RemoteAddr, logger.KeyError, err)
			return
		}
		conn := newWSConn(ws)
		select {
		case conns <- conn:
		case <-done:
			_ = conn.Close()
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("WebSocket listener stopped", logger.KeyAddress, ln.Addr(), logger.KeyError, err)
		}
	}()

	accept := func(ctx context.Context) (net.Conn, error) {
		select {
		case conn := <-conns:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return nil, ErrServerClosed
		}
	}
	stop := func() error {
		close(done)
		return srv.Close()
	}
	return newListenerServer("ws", ln.Addr(), accept, stop), nil
}

// wsConn presents a WebSocket connection as a net.Conn byte stream.
type wsConn struct {
	ws *websocket.Conn

	rmu    sync.Mutex
	reader io.Reader

	wmu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if c.reader == nil {
			typ, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	// WriteControl may run concurrently with a blocked Write.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
