package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/pkg/bufpool"
	"github.com/marmos91/xnet/pkg/xnet"
)

// ConnectionSource lists the live connections of a host. *host.Server
// implements it.
type ConnectionSource interface {
	Connections() []*xnet.Connection
	ActiveConnections() int32
}

// Sources are the components the admin API reports on. Any may be nil.
type Sources struct {
	Host ConnectionSource
	Pool *bufpool.Pool
}

// ConnectionInfo describes one live connection.
type ConnectionInfo struct {
	ID      uint64    `json:"id"`
	Network string    `json:"network"`
	Remote  string    `json:"remote"`
	Local   string    `json:"local"`
	Since   time.Time `json:"since"`
	Age     string    `json:"age"`
	Pending int       `json:"pending"`
}

func describe(c *xnet.Connection, now time.Time) ConnectionInfo {
	info := ConnectionInfo{
		ID:      c.ID(),
		Network: c.Network(),
		Since:   c.CreatedAt().UTC(),
		Age:     now.Sub(c.CreatedAt()).Truncate(time.Millisecond).String(),
		Pending: c.PendingRequests(),
	}
	if a := c.RemoteAddr(); a != nil {
		info.Remote = a.String()
	}
	if a := c.LocalAddr(); a != nil {
		info.Local = a.String()
	}
	return info
}

type handlers struct {
	src Sources
}

// liveness handles GET /health. It answers as long as the process serves HTTP.
func (h *handlers) liveness(w http.ResponseWriter, _ *http.Request) {
	data := map[string]any{"service": "xnet"}
	if h.src.Host != nil {
		data["active_connections"] = h.src.Host.ActiveConnections()
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}

// readiness handles GET /health/ready.
func (h *handlers) readiness(w http.ResponseWriter, _ *http.Request) {
	if h.src.Host == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no packet server attached"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"active_connections": h.src.Host.ActiveConnections(),
	}))
}

func (h *handlers) listConnections(w http.ResponseWriter, _ *http.Request) {
	if h.src.Host == nil {
		writeJSON(w, http.StatusOK, okResponse([]ConnectionInfo{}))
		return
	}

	now := time.Now()
	conns := h.src.Host.Connections()
	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, describe(c, now))
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

func (h *handlers) getConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, okResponse(describe(c, time.Now())))
}

// kickConnection handles DELETE /api/v1/connections/{id}.
func (h *handlers) kickConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	logger.Info("Connection kicked via admin API",
		logger.KeyConnectionID, c.ID(),
		logger.KeyRemoteAddr, c.RemoteAddr(),
	)
	c.Kick()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) (*xnet.Connection, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid connection id"))
		return nil, false
	}
	if h.src.Host != nil {
		for _, c := range h.src.Host.Connections() {
			if c.ID() == id {
				return c, true
			}
		}
	}
	writeJSON(w, http.StatusNotFound, errorResponse("connection not found"))
	return nil, false
}

func (h *handlers) poolStats(w http.ResponseWriter, _ *http.Request) {
	pool := h.src.Pool
	if pool == nil {
		pool = bufpool.Default()
	}
	writeJSON(w, http.StatusOK, okResponse(pool.Stats()))
}
