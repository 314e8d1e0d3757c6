package domain

import (
	"fmt"
	"time"
)

// BreakerState is the state of a per-dependency circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // all calls pass through
	BreakerOpen                         // calls are rejected until the recovery time elapses
	BreakerHalfOpen                     // one probe call decides the next state
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON and YAML.
func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *BreakerState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CLOSED":
		*s = BreakerClosed
	case "OPEN":
		*s = BreakerOpen
	case "HALF_OPEN":
		*s = BreakerHalfOpen
	default:
		return fmt.Errorf("unknown breaker state %q", b)
	}
	return nil
}

// BreakerTransition describes one state change of a dependency's breaker.
type BreakerTransition struct {
	Dependency string       `json:"dependency"`
	From       BreakerState `json:"from"`
	To         BreakerState `json:"to"`
	At         time.Time    `json:"at"`
}

// BreakerSnapshot is a point-in-time copy of a breaker record.
type BreakerSnapshot struct {
	Dependency      string        `json:"dependency"`
	State           BreakerState  `json:"state"`
	FailureCount    int           `json:"failure_count"`
	LastFailureTime time.Time     `json:"last_failure_time,omitzero"`
	NextAttemptTime time.Time     `json:"next_attempt_time,omitzero"`
	ProbeInFlight   bool          `json:"probe_in_flight"`
	Threshold       int           `json:"threshold"`
	Window          time.Duration `json:"window"`
	RecoveryTime    time.Duration `json:"recovery_time"`
}
