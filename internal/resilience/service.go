// Package resilience is the entry point for guarded downstream calls: it owns
// the classifier, policy catalog, breaker registry and error metrics shared by
// every caller in the process.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/metrics"
	"github.com/vietddude/resilience/internal/infra/tracing"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/classifier"
	"github.com/vietddude/resilience/internal/resilience/errmetrics"
	"github.com/vietddude/resilience/internal/resilience/policy"
	"github.com/vietddude/resilience/internal/resilience/retry"
)

// DefaultStatsWindow is used when statistics are requested without a window.
const DefaultStatsWindow = time.Hour

const (
	transitionBuffer = 256
	publishTimeout   = 2 * time.Second
)

// Config configures the service.
type Config struct {
	Breaker      breaker.Config            `yaml:"breaker"`
	Dependencies map[string]breaker.Config `yaml:"dependencies"`
	Metrics      errmetrics.Config         `yaml:"metrics"`
	Policies     map[string]policy.Policy  `yaml:"policies"`
}

// TransitionPublisher receives breaker transitions off the request path.
type TransitionPublisher interface {
	Publish(ctx context.Context, t domain.BreakerTransition) error
}

// Service is constructed once per process and shared by reference.
type Service struct {
	classifier *classifier.Classifier
	catalog    *policy.Catalog
	breakers   *breaker.Registry
	recorder   *errmetrics.Recorder
	executor   *retry.Executor

	publisher   TransitionPublisher
	transitions chan domain.BreakerTransition

	log     *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a service from cfg. Invalid custom policies are logged and skipped.
func New(cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	catalog, errs := policy.NewCatalogWithCustom(cfg.Policies)
	for _, err := range errs {
		log.Warn("Ignoring retry policy", "error", err)
	}

	c := classifier.New()
	c.SetLogger(log)

	breakers := breaker.NewRegistry(cfg.Breaker)
	breakers.SetLogger(log)
	for dep, bc := range cfg.Dependencies {
		breakers.SetOverride(dep, mergeBreaker(cfg.Breaker, bc))
		breakers.Register(dep)
	}

	recorder := errmetrics.NewRecorder(cfg.Metrics)
	recorder.SetLogger(log)

	executor := retry.NewExecutor(c, catalog, breakers, recorder)
	executor.SetLogger(log)

	s := &Service{
		classifier:  c,
		catalog:     catalog,
		breakers:    breakers,
		recorder:    recorder,
		executor:    executor,
		transitions: make(chan domain.BreakerTransition, transitionBuffer),
		log:         log,
		now:         time.Now,
	}
	breakers.OnStateChange(s.onStateChange)
	return s
}

// SetTracer wraps every attempt in a traced unit of work.
func (s *Service) SetTracer(t tracing.Tracer) {
	s.executor.SetTracer(t)
}

// SetPublisher forwards breaker transitions to p. Must be called before Start.
func (s *Service) SetPublisher(p TransitionPublisher) {
	s.publisher = p
}

// SetClock replaces the time source of every component. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.breakers.SetClock(now)
	s.recorder.SetClock(now)
	s.executor.SetClock(now)
}

// Executor exposes the retry executor for generic calls via retry.Execute.
func (s *Service) Executor() *retry.Executor {
	return s.executor
}

// Policies returns the retry policy catalog.
func (s *Service) Policies() *policy.Catalog {
	return s.catalog
}

// Classify classifies err and records it in the error metrics. It does not
// touch the circuit breaker.
func (s *Service) Classify(err error, cc domain.CallContext) domain.Classification {
	c := s.classifier.Classify(err, cc)
	s.recorder.Record(c)
	return c
}

// ExecuteWithRetry runs op under the named policy for dependency.
func (s *Service) ExecuteWithRetry(ctx context.Context, opts retry.Options, op func(ctx context.Context) error) error {
	return s.executor.Run(ctx, opts, op)
}

// CheckCircuitBreaker is the gate check. An allowed HALF_OPEN decision makes
// the caller the probe until it calls RecordOutcome or ReleaseProbe, or until
// the lease of one recovery time runs out. Use BreakerStates to observe
// without taking the slot.
func (s *Service) CheckCircuitBreaker(dependency string) breaker.Decision {
	return s.breakers.Check(dependency)
}

// RecordOutcome reports the result of a call admitted by CheckCircuitBreaker.
// A nil classification is a success.
func (s *Service) RecordOutcome(dependency string, c *domain.Classification) {
	s.breakers.RecordOutcome(dependency, c)
}

// ReleaseProbe gives back a HALF_OPEN probe slot taken by CheckCircuitBreaker
// when no call was made.
func (s *Service) ReleaseProbe(dependency string) {
	s.breakers.ReleaseProbe(dependency)
}

// ResetCircuitBreaker forces the dependency's breaker CLOSED.
func (s *Service) ResetCircuitBreaker(dependency string) bool {
	return s.breakers.Reset(dependency)
}

// BreakerStates returns a snapshot of every known breaker.
func (s *Service) BreakerStates() map[string]domain.BreakerSnapshot {
	return s.breakers.Snapshots()
}

// GetErrorStatistics reports errors inside window for dependency (all when
// empty) together with the current breaker states.
func (s *Service) GetErrorStatistics(dependency string, window time.Duration) domain.StatsReport {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	report := s.recorder.Statistics(dependency, window)

	if dependency != "" {
		if snap, ok := s.breakers.Snapshot(dependency); ok {
			report.Breakers[dependency] = snap
		}
		return report
	}
	for dep, snap := range s.breakers.Snapshots() {
		report.Breakers[dep] = snap
	}
	return report
}

// Start launches the metrics sweeper and the transition publisher.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.recorder.Run(ctx)
	}()

	if s.publisher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.publishLoop(ctx)
		}()
	}

	s.log.Info("Resilience service started",
		"policies", s.catalog.Names(),
		"sweep_interval", s.recorder.Config().SweepInterval,
	)
}

// Stop cancels the background tasks and waits for them to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Resilience service stopped")
}

// Sweep runs one retention sweep immediately.
func (s *Service) Sweep() (samples, entries int) {
	return s.recorder.Sweep()
}

// mergeBreaker fills unset override fields from the base configuration.
func mergeBreaker(base, override breaker.Config) breaker.Config {
	if override.Threshold <= 0 {
		override.Threshold = base.Threshold
	}
	if override.Window == 0 {
		override.Window = base.Window
	}
	if override.RecoveryTime <= 0 {
		override.RecoveryTime = base.RecoveryTime
	}
	return override
}

func (s *Service) onStateChange(dependency string, from, to domain.BreakerState) {
	metrics.ObserveTransition(dependency, from, to)
	if s.publisher == nil {
		return
	}

	t := domain.BreakerTransition{Dependency: dependency, From: from, To: to, At: s.now()}
	select {
	case s.transitions <- t:
	default:
		s.log.Warn("Dropping breaker transition, publisher backlog full", "dependency", dependency, "to", to)
	}
}

func (s *Service) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.transitions:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := s.publisher.Publish(pctx, t); err != nil {
				s.log.Warn("Failed to publish breaker transition", "dependency", t.Dependency, "error", err)
			}
			cancel()
		}
	}
}
