package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/pkg/metrics"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe (503 without a packet server)
//   - GET /api/v1/connections - Live connections, oldest first
//   - GET /api/v1/connections/{id} - One connection
//   - DELETE /api/v1/connections/{id} - Kick a connection
//   - GET /api/v1/pool - Buffer pool statistics
//   - GET /metrics - Prometheus exposition (404 when metrics are disabled)
func NewRouter(src Sources) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handlers{src: src}

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.liveness)
		r.Get("/ready", h.readiness)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/connections", func(r chi.Router) {
			r.Get("/", h.listConnections)
			r.Get("/{id}", h.getConnection)
			r.Delete("/{id}", h.kickConnection)
		})
		r.Get("/pool", h.poolStats)
	})

	r.Handle("/metrics", metrics.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs each request through the internal logger: the start at
// DEBUG, the completion with status and duration at INFO. Scrapes of
// /metrics complete at DEBUG.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("Admin request started",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyRemoteAddr, r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := logger.Info
		if r.URL.Path == "/metrics" {
			log = logger.Debug
		}
		log("Admin request completed",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
