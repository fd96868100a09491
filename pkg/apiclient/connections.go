package apiclient

import (
	"context"
	"strconv"

	"github.com/marmos91/xnet/pkg/admin"
	"github.com/marmos91/xnet/pkg/bufpool"
)

// Health is the payload of GET /health.
type Health struct {
	Service           string `json:"service"`
	ActiveConnections int32  `json:"active_connections"`
}

// Health checks that the admin server is up.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Connections lists the live connections, oldest first.
func (c *Client) Connections(ctx context.Context) ([]admin.ConnectionInfo, error) {
	var out []admin.ConnectionInfo
	if err := c.get(ctx, "/api/v1/connections", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Connection returns one connection by id.
func (c *Client) Connection(ctx context.Context, id uint64) (*admin.ConnectionInfo, error) {
	var info admin.ConnectionInfo
	if err := c.get(ctx, "/api/v1/connections/"+strconv.FormatUint(id, 10), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Kick closes a connection on the server.
func (c *Client) Kick(ctx context.Context, id uint64) error {
	return c.delete(ctx, "/api/v1/connections/"+strconv.FormatUint(id, 10))
}

// PoolStats returns the server's buffer pool statistics.
func (c *Client) PoolStats(ctx context.Context) ([]bufpool.ClassStats, error) {
	var out []bufpool.ClassStats
	if err := c.get(ctx, "/api/v1/pool", &out); err != nil {
		return nil, err
	}
	return out, nil
}
