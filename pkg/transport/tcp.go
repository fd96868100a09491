package transport

import (
	"context"
	"net"
	"net/netip"
)

// TCP is the plain TCP provider, registered as "tcp".
var TCP Provider = tcpProvider{}

type tcpProvider struct{}

func (tcpProvider) Name() string { return "tcp" }

func (tcpProvider) Dial(ctx context.Context, endpoint netip.AddrPort) (Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint.String())
	if err != nil {
		return nil, err
	}
	return NewConnSocket(conn, "tcp"), nil
}

func (tcpProvider) Listen(endpoint netip.AddrPort) (Server, error) {
	ln, err := net.Listen("tcp", endpoint.String())
	if err != nil {
		return nil, err
	}
	return newListenerServer("tcp", ln.Addr(), deadlineAccept(ln), ln.Close), nil
}
