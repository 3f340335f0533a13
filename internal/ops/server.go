// Package ops serves the worker's operational endpoints: health and
// Prometheus metrics. The platform's user-facing HTTP API lives in a
// separate service and reads the same database.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger verifies database connectivity for the health check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server holds the ops HTTP handler dependencies.
type Server struct {
	router *chi.Mux
	db     Pinger
}

// NewServer creates the ops HTTP server with all routes mounted. The
// collector may be nil to skip metrics registration (tests).
func NewServer(db Pinger, collector prometheus.Collector) *Server {
	s := &Server{
		router: chi.NewRouter(),
		db:     db,
	}

	registry := prometheus.NewRegistry()
	if collector != nil {
		registry.MustRegister(collector)
	}

	s.router.Use(chimw.RequestID)
	s.router.Use(requestLogger)
	s.router.Use(recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth handles GET /healthz, reporting database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
