// Package health provides breaker-derived health reporting and the admin HTTP surface.
package health

import (
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// DependencyHealth contains the health of one downstream dependency.
type DependencyHealth struct {
	Dependency   string              `json:"dependency"`
	Status       SystemStatus        `json:"status"`
	State        domain.BreakerState `json:"breaker_state"`
	FailureCount int                 `json:"failure_count"`
	NextAttempt  time.Time           `json:"next_attempt,omitzero"`
	RecentErrors int                 `json:"recent_errors"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                `json:"system_status"`
	Dependencies map[string]DependencyHealth `json:"dependencies"`
	CheckedAt    time.Time                   `json:"checked_at"`
}
