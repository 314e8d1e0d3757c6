// Package breaker tracks per-dependency health and gates traffic to
// dependencies that keep failing.
//
// Each dependency gets one breaker with three states:
//   - CLOSED: calls pass; critical or system failures are counted.
//   - OPEN: calls are rejected until the recovery time elapses.
//   - HALF_OPEN: a single probe call is admitted; concurrent callers are
//     rejected until the probe resolves.
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// ErrOpen matches every rejection produced by the gate.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned instead of attempting a call when the breaker rejects it.
type OpenError struct {
	Dependency  string
	State       domain.BreakerState
	NextAttempt time.Time
}

func (e *OpenError) Error() string {
	if e.State == domain.BreakerHalfOpen {
		return fmt.Sprintf("circuit breaker for %s is half-open with a probe in flight", e.Dependency)
	}
	return fmt.Sprintf("circuit breaker for %s is open until %s",
		e.Dependency, e.NextAttempt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrOpen) hold for any OpenError.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Config holds breaker parameters. They are copied into a breaker when it is created.
type Config struct {
	Threshold    int           `yaml:"threshold"`
	Window       time.Duration `yaml:"window"`
	RecoveryTime time.Duration `yaml:"recovery_time"`
}

// DefaultConfig returns threshold 5, window 60s, recovery 30s.
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		Window:       60 * time.Second,
		RecoveryTime: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Window < 0 {
		c.Window = 0
	}
	if c.RecoveryTime <= 0 {
		c.RecoveryTime = d.RecoveryTime
	}
	return c
}

// Decision is the result of a gate check.
type Decision struct {
	Allowed bool
	State   domain.BreakerState

	// Probe is set when the admitted call is the single HALF_OPEN trial.
	Probe bool
}

// StateChangeFunc observes breaker transitions. It runs outside the breaker
// lock, and calls for one dependency are delivered one at a time in the order
// the transitions happened.
type StateChangeFunc func(dependency string, from, to domain.BreakerState)

type breaker struct {
	mu sync.Mutex

	cfg             Config
	state           domain.BreakerState
	failureCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	probeInFlight   bool

	// probeDeadline bounds the probe lease. A probe that never reports back
	// loses the slot once it passes.
	probeDeadline time.Time

	// pending transitions are delivered to listeners in state order by
	// whichever caller holds dispatching.
	pending     []transition
	dispatching bool
}

type transition struct {
	from, to domain.BreakerState
}

// Registry owns one breaker per dependency name.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*breaker
	defaults  Config
	overrides map[string]Config

	now       func() time.Time
	listeners []StateChangeFunc
	log       *slog.Logger
}

// NewRegistry creates a registry whose breakers use cfg unless overridden.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers:  make(map[string]*breaker),
		defaults:  cfg.withDefaults(),
		overrides: make(map[string]Config),
		now:       time.Now,
		log:       slog.Default(),
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetLogger sets the logger used for transition logs.
func (r *Registry) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = l
}

// SetOverride configures a dependency-specific breaker. It only affects
// breakers created after the call.
func (r *Registry) SetOverride(dependency string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[dependency] = cfg.withDefaults()
}

// OnStateChange registers a transition observer.
func (r *Registry) OnStateChange(fn StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Register creates the breaker for dependency if it does not exist yet.
func (r *Registry) Register(dependency string) {
	r.get(dependency)
}

func (r *Registry) get(dependency string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[dependency]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[dependency]; ok {
		return b
	}
	cfg, ok := r.overrides[dependency]
	if !ok {
		cfg = r.defaults
	}
	b = &breaker{cfg: cfg, state: domain.BreakerClosed}
	r.breakers[dependency] = b
	return b
}

func (r *Registry) lookup(dependency string) (*breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[dependency]
	return b, ok
}

func (r *Registry) clock() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

// Check decides whether a call to dependency may proceed. Unknown
// dependencies get a fresh CLOSED breaker and are allowed. An allowed
// HALF_OPEN decision leases the probe slot for one recovery time; the caller
// should report the outcome or call ReleaseProbe before it expires.
func (r *Registry) Check(dependency string) Decision {
	b := r.get(dependency)
	now := r.clock()

	b.mu.Lock()
	var tr *transition
	d := Decision{State: b.state}
	switch b.state {
	case domain.BreakerClosed:
		d.Allowed = true
	case domain.BreakerOpen:
		if !now.Before(b.nextAttemptTime) {
			tr = &transition{from: b.state, to: domain.BreakerHalfOpen}
			b.state = domain.BreakerHalfOpen
			b.claimProbe(now)
			d = Decision{Allowed: true, State: b.state, Probe: true}
		}
	case domain.BreakerHalfOpen:
		if !b.probeInFlight || !now.Before(b.probeDeadline) {
			b.claimProbe(now)
			d = Decision{Allowed: true, State: b.state, Probe: true}
		}
	}
	r.release(dependency, b, tr)
	return d
}

func (b *breaker) claimProbe(now time.Time) {
	b.probeInFlight = true
	b.probeDeadline = now.Add(b.cfg.RecoveryTime)
}

// Gate is Check returning an *OpenError on rejection.
func (r *Registry) Gate(dependency string) (Decision, error) {
	d := r.Check(dependency)
	if d.Allowed {
		return d, nil
	}
	snap, _ := r.Snapshot(dependency)
	return d, &OpenError{Dependency: dependency, State: d.State, NextAttempt: snap.NextAttemptTime}
}

// RecordOutcome feeds a call result into the breaker. A nil classification
// means success.
func (r *Registry) RecordOutcome(dependency string, c *domain.Classification) {
	if c == nil {
		r.RecordSuccess(dependency)
		return
	}
	r.RecordFailure(dependency, *c)
}

// RecordSuccess decays the failure count by one while CLOSED and closes a
// HALF_OPEN breaker with a zero count. The two paths differ on purpose.
func (r *Registry) RecordSuccess(dependency string) {
	b := r.get(dependency)

	b.mu.Lock()
	var tr *transition
	switch b.state {
	case domain.BreakerClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	case domain.BreakerHalfOpen:
		tr = &transition{from: b.state, to: domain.BreakerClosed}
		b.state = domain.BreakerClosed
		b.failureCount = 0
		b.probeInFlight = false
		b.nextAttemptTime = time.Time{}
	}
	r.release(dependency, b, tr)
}

// RecordFailure counts a classified failure. Only critical-severity or
// system-category failures move the breaker.
func (r *Registry) RecordFailure(dependency string, c domain.Classification) {
	b := r.get(dependency)
	now := r.clock()

	b.mu.Lock()
	var tr *transition
	if !c.CountsTowardBreaker() {
		if b.state == domain.BreakerHalfOpen {
			b.probeInFlight = false
		}
		b.mu.Unlock()
		return
	}

	switch b.state {
	case domain.BreakerClosed:
		if b.cfg.Window > 0 && !b.lastFailureTime.IsZero() && now.Sub(b.lastFailureTime) > b.cfg.Window {
			b.failureCount = 0
		}
		b.failureCount++
		b.lastFailureTime = now
		if b.failureCount >= b.cfg.Threshold {
			tr = &transition{from: b.state, to: domain.BreakerOpen}
			b.state = domain.BreakerOpen
			b.nextAttemptTime = now.Add(b.cfg.RecoveryTime)
		}
	case domain.BreakerHalfOpen:
		tr = &transition{from: b.state, to: domain.BreakerOpen}
		b.state = domain.BreakerOpen
		b.failureCount++
		b.lastFailureTime = now
		b.probeInFlight = false
		b.nextAttemptTime = now.Add(b.cfg.RecoveryTime)
	case domain.BreakerOpen:
		// Late failures from calls admitted before the breaker opened.
		b.lastFailureTime = now
	}
	r.release(dependency, b, tr)
}

// ReleaseProbe frees the HALF_OPEN probe slot without a transition, for
// probes that were canceled before producing an outcome.
func (r *Registry) ReleaseProbe(dependency string) {
	b, ok := r.lookup(dependency)
	if !ok {
		return
	}
	b.mu.Lock()
	if b.state == domain.BreakerHalfOpen {
		b.probeInFlight = false
	}
	b.mu.Unlock()
}

// Reset forces the breaker CLOSED with a zero failure count. It returns
// false when no breaker exists for dependency.
func (r *Registry) Reset(dependency string) bool {
	b, ok := r.lookup(dependency)
	if !ok {
		return false
	}

	b.mu.Lock()
	var tr *transition
	if b.state != domain.BreakerClosed {
		tr = &transition{from: b.state, to: domain.BreakerClosed}
	}
	b.state = domain.BreakerClosed
	b.failureCount = 0
	b.probeInFlight = false
	b.nextAttemptTime = time.Time{}
	r.release(dependency, b, tr)
	return true
}

// Snapshot returns a copy of the breaker for dependency.
func (r *Registry) Snapshot(dependency string) (domain.BreakerSnapshot, bool) {
	b, ok := r.lookup(dependency)
	if !ok {
		return domain.BreakerSnapshot{}, false
	}
	return b.snapshot(dependency), true
}

// Snapshots returns copies of every breaker keyed by dependency.
func (r *Registry) Snapshots() map[string]domain.BreakerSnapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for n := range r.breakers {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make(map[string]domain.BreakerSnapshot, len(names))
	for _, n := range names {
		if snap, ok := r.Snapshot(n); ok {
			out[n] = snap
		}
	}
	return out
}

func (b *breaker) snapshot(dependency string) domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BreakerSnapshot{
		Dependency:      dependency,
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
		ProbeInFlight:   b.probeInFlight,
		Threshold:       b.cfg.Threshold,
		Window:          b.cfg.Window,
		RecoveryTime:    b.cfg.RecoveryTime,
	}
}

// release unlocks b after queueing tr and delivers queued transitions in the
// order they happened. Listeners run without the breaker lock held.
func (r *Registry) release(dependency string, b *breaker, tr *transition) {
	if tr != nil {
		b.pending = append(b.pending, *tr)
	}
	if b.dispatching || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	b.dispatching = true
	for len(b.pending) > 0 {
		next := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()
		r.notify(dependency, next)
		b.mu.Lock()
	}
	b.dispatching = false
	b.mu.Unlock()
}

func (r *Registry) notify(dependency string, tr transition) {
	r.mu.RLock()
	listeners := make([]StateChangeFunc, len(r.listeners))
	copy(listeners, r.listeners)
	log := r.log
	r.mu.RUnlock()

	if tr.to == domain.BreakerOpen {
		log.Warn("Circuit breaker opened", "dependency", dependency, "from", tr.from.String())
	} else {
		log.Info("Circuit breaker transition",
			"dependency", dependency, "from", tr.from.String(), "to", tr.to.String())
	}
	for _, fn := range listeners {
		callListener(log, fn, dependency, tr)
	}
}

func callListener(log *slog.Logger, fn StateChangeFunc, dependency string, tr transition) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("Breaker listener panicked", "dependency", dependency, "panic", p)
		}
	}()
	fn(dependency, tr.from, tr.to)
}
