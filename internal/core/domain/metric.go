package domain

import "time"

// Sample is one recorded classification kept for windowed statistics.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// ErrorMetric aggregates classifications for one (dependency, category) pair.
type ErrorMetric struct {
	Dependency string    `json:"dependency"`
	Category   Category  `json:"category"`
	Count      int64     `json:"count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Samples    []Sample  `json:"samples"`
}

// StatsReport is the windowed view returned by error statistics queries.
type StatsReport struct {
	Dependency   string                     `json:"dependency,omitempty"`
	Window       time.Duration              `json:"window"`
	GeneratedAt  time.Time                  `json:"generated_at"`
	Total        int                        `json:"total"`
	ByCategory   map[Category]int           `json:"by_category"`
	BySeverity   map[Severity]int           `json:"by_severity"`
	ByDependency map[string]int             `json:"by_dependency"`
	Breakers     map[string]BreakerSnapshot `json:"breakers"`
}

// StatsSnapshot is a persisted per-dependency summary of a StatsReport.
type StatsSnapshot struct {
	ID         string           `json:"id"          db:"id"`
	Dependency string           `json:"dependency"  db:"dependency"`
	Total      int              `json:"total"       db:"total"`
	ByCategory map[Category]int `json:"by_category" db:"-"`
	BySeverity map[Severity]int `json:"by_severity" db:"-"`
	State      string           `json:"state"       db:"breaker_state"`
	WindowMs   int64            `json:"window_ms"   db:"window_ms"`
	CapturedAt time.Time        `json:"captured_at" db:"captured_at"`
}
