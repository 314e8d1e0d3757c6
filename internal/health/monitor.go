package health

import (
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

const (
	recentWindow  = 5 * time.Minute
	minCheckEvery = 2 * time.Second
)

// Source exposes the state the monitor derives health from.
type Source interface {
	BreakerStates() map[string]domain.BreakerSnapshot
	GetErrorStatistics(dependency string, window time.Duration) domain.StatsReport
}

// Monitor derives dependency health from circuit breaker states.
type Monitor struct {
	source     Source
	now        func() time.Time
	lastCheck  time.Time
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(source Source) *Monitor {
	return &Monitor{source: source, now: time.Now}
}

// CheckHealth builds a report for every known dependency. A CLOSED breaker is
// healthy, HALF_OPEN is degraded and OPEN is critical. The system is critical
// only when every dependency is critical and degraded when any is unhealthy.
func (m *Monitor) CheckHealth() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	// Rate limit checks to keep probes cheap
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < minCheckEvery {
		return m.lastReport
	}

	stats := m.source.GetErrorStatistics("", recentWindow)
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Dependencies: make(map[string]DependencyHealth),
		CheckedAt:    now,
	}

	critical := 0
	for dep, snap := range m.source.BreakerStates() {
		h := DependencyHealth{
			Dependency:   dep,
			Status:       statusOf(snap.State),
			State:        snap.State,
			FailureCount: snap.FailureCount,
			NextAttempt:  snap.NextAttemptTime,
			RecentErrors: stats.ByDependency[dep],
		}
		report.Dependencies[dep] = h

		switch h.Status {
		case StatusCritical:
			critical++
			report.SystemStatus = StatusDegraded
		case StatusDegraded:
			report.SystemStatus = StatusDegraded
		}
	}
	if critical > 0 && critical == len(report.Dependencies) {
		report.SystemStatus = StatusCritical
	}

	m.lastCheck = now
	m.lastReport = report
	return report
}

func statusOf(s domain.BreakerState) SystemStatus {
	switch s {
	case domain.BreakerOpen:
		return StatusCritical
	case domain.BreakerHalfOpen:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
