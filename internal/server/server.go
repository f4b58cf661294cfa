// Package server implements the operator HTTP surface for Warden.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/warden/internal/app"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/metrics"
	"github.com/eugener/warden/internal/storage"
	"github.com/eugener/warden/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Cache          *cache.PolicyCache
	Metrics        *metrics.Collector
	Loader         *app.Loader           // nil = no snapshot read-through
	Snapshots      storage.SnapshotStore // nil = no /debug/snapshots
	ReadyCheck     ReadyChecker          // nil = always ready (for tests)
	Telemetry      *telemetry.Metrics    // nil = no request metrics
	MetricsHandler http.Handler          // nil = no /metrics
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Telemetry != nil {
		r.Use(metricsMiddleware(deps.Telemetry))
	}

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/debug", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/stats/export", s.handleExport)
		r.Post("/stats/reset", s.handleReset)
		r.Get("/samples", s.handleSamples)

		// Keys may contain '/', so they are matched as a wildcard tail.
		r.Get("/cache/keys", s.handleCacheKeys)
		r.Get("/cache/info/*", s.handleCacheInfo)
		r.Delete("/cache/entries/*", s.handleCacheRemove)
		r.Post("/cache/clear", s.handleCacheClear)

		if deps.Snapshots != nil && deps.Loader != nil {
			r.Get("/snapshots/latest", s.handleLatestSnapshot)
		}
	})

	return r
}

type server struct {
	deps Deps
}
