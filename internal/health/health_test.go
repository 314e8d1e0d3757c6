package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// =============================================================================
// Stubs
// =============================================================================

type stubAdmin struct {
	states map[string]domain.BreakerSnapshot
	reset  []string
	window time.Duration
	dep    string
	errors map[string]int
}

func (s *stubAdmin) BreakerStates() map[string]domain.BreakerSnapshot { return s.states }

func (s *stubAdmin) GetErrorStatistics(dep string, window time.Duration) domain.StatsReport {
	s.dep, s.window = dep, window
	return domain.StatsReport{Dependency: dep, Window: window, Total: 2, ByDependency: s.errors}
}

func (s *stubAdmin) ResetCircuitBreaker(dep string) bool {
	if _, ok := s.states[dep]; !ok {
		return false
	}
	s.reset = append(s.reset, dep)
	return true
}

func states(kv ...any) map[string]domain.BreakerSnapshot {
	out := make(map[string]domain.BreakerSnapshot)
	for i := 0; i < len(kv); i += 2 {
		dep := kv[i].(string)
		out[dep] = domain.BreakerSnapshot{Dependency: dep, State: kv[i+1].(domain.BreakerState)}
	}
	return out
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_CheckHealth(t *testing.T) {
	tests := []struct {
		name   string
		states map[string]domain.BreakerSnapshot
		want   SystemStatus
	}{
		{"no dependencies", states(), StatusHealthy},
		{"all closed", states("notion", domain.BreakerClosed, "xero", domain.BreakerClosed), StatusHealthy},
		{"one half open", states("notion", domain.BreakerHalfOpen, "xero", domain.BreakerClosed), StatusDegraded},
		{"one open", states("notion", domain.BreakerOpen, "xero", domain.BreakerClosed), StatusDegraded},
		{"all open", states("notion", domain.BreakerOpen, "xero", domain.BreakerOpen), StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(&stubAdmin{states: tt.states, errors: map[string]int{"notion": 3}})
			report := m.CheckHealth()
			if report.SystemStatus != tt.want {
				t.Errorf("status = %s, want %s", report.SystemStatus, tt.want)
			}
			if len(report.Dependencies) != len(tt.states) {
				t.Errorf("dependencies = %d, want %d", len(report.Dependencies), len(tt.states))
			}
			if n, ok := report.Dependencies["notion"]; ok && n.RecentErrors != 3 {
				t.Errorf("recent errors = %d, want 3", n.RecentErrors)
			}
		})
	}
}

func TestMonitor_CachesBriefly(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	admin := &stubAdmin{states: states("gmail", domain.BreakerClosed)}
	m := NewMonitor(admin)
	m.now = func() time.Time { return now }

	m.CheckHealth()
	admin.states = states("gmail", domain.BreakerOpen)
	if got := m.CheckHealth().SystemStatus; got != StatusHealthy {
		t.Errorf("expected cached healthy report, got %s", got)
	}

	now = now.Add(minCheckEvery)
	if got := m.CheckHealth().SystemStatus; got != StatusCritical {
		t.Errorf("expected refreshed critical report, got %s", got)
	}
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(&stubAdmin{states: states("notion", domain.BreakerOpen)}, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != string(StatusCritical) {
		t.Errorf("body = %v", body)
	}
}

func TestServer_Breakers(t *testing.T) {
	admin := &stubAdmin{states: states("notion", domain.BreakerOpen, "xero", domain.BreakerClosed)}
	srv := NewServer(admin, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/breakers", nil))
	var got map[string]domain.BreakerSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["notion"].State != domain.BreakerOpen {
		t.Errorf("breakers = %+v", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/breakers/notion/reset", nil))
	if rec.Code != http.StatusOK || len(admin.reset) != 1 || admin.reset[0] != "notion" {
		t.Errorf("reset: code=%d calls=%v", rec.Code, admin.reset)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/breakers/neo4j/reset", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown reset code = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/breakers/notion/reset", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET reset code = %d, want 405", rec.Code)
	}
}

func TestServer_Stats(t *testing.T) {
	tests := []struct {
		query      string
		wantCode   int
		wantWindow time.Duration
		wantDep    string
	}{
		{"/stats", http.StatusOK, 0, ""},
		{"/stats?dependency=xero&window=15m", http.StatusOK, 15 * time.Minute, "xero"},
		{"/stats?window_ms=90000", http.StatusOK, 90 * time.Second, ""},
		{"/stats?window=soon", http.StatusBadRequest, 0, ""},
		{"/stats?window_ms=-1", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			admin := &stubAdmin{states: states()}
			srv := NewServer(admin, 0)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.query, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if admin.window != tt.wantWindow || admin.dep != tt.wantDep {
				t.Errorf("query passed window=%v dep=%q", admin.window, admin.dep)
			}
		})
	}
}
