package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/resilience/internal/core/domain"
)

// Admin is the operational surface of the resilience service.
type Admin interface {
	Source
	ResetCircuitBreaker(dependency string) bool
}

// Server provides HTTP endpoints for health monitoring and breaker administration.
type Server struct {
	monitor *Monitor
	admin   Admin
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(admin Admin, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: NewMonitor(admin),
		admin:   admin,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /breakers", s.handleBreakers)
	mux.HandleFunc("POST /breakers/{name}/reset", s.handleReset)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth()
	status := http.StatusOK
	if report.SystemStatus == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.BreakerStates())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.admin.ResetCircuitBreaker(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown dependency %q", name)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dependency": name, "state": domain.BreakerClosed, "reset": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.admin.GetErrorStatistics(r.URL.Query().Get("dependency"), window))
}

// parseWindow reads ?window=15m or ?window_ms=900000. Zero means the default window.
func parseWindow(r *http.Request) (time.Duration, error) {
	q := r.URL.Query()
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return 0, fmt.Errorf("invalid window %q", v)
		}
		return d, nil
	}
	if v := q.Get("window_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			return 0, fmt.Errorf("invalid window_ms %q", v)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
