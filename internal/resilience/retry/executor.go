// Package retry runs operations under a retry policy, consulting and feeding
// the circuit breaker registry and the error metrics recorder.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/metrics"
	"github.com/vietddude/resilience/internal/infra/tracing"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/classifier"
	"github.com/vietddude/resilience/internal/resilience/errmetrics"
	"github.com/vietddude/resilience/internal/resilience/policy"
)

const defaultOperation = "call"

// ClassifiedError is the final failure of a run. It renders and unwraps as
// the original operation error.
type ClassifiedError struct {
	Err            error
	Classification domain.Classification
	Attempts       int
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// ClassificationOf extracts the classification attached to err, if any.
func ClassificationOf(err error) (domain.Classification, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Classification, true
	}
	return domain.Classification{}, false
}

// Options describe one run.
type Options struct {
	Dependency string
	Policy     string
	// Operation names the span wrapping each attempt.
	Operation string
	Context   map[string]any
	OnRetry   func(c domain.Classification, attempt int, delay time.Duration)
	OnFailure func(c domain.Classification, attempt int)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor is safe for concurrent use.
type Executor struct {
	classifier *classifier.Classifier
	catalog    *policy.Catalog
	breakers   *breaker.Registry
	recorder   *errmetrics.Recorder
	tracer     tracing.Tracer
	sleep      Sleeper
	rand       func() float64
	now        func() time.Time
	log        *slog.Logger
}

// NewExecutor wires an executor over its collaborators.
func NewExecutor(c *classifier.Classifier, cat *policy.Catalog, br *breaker.Registry, rec *errmetrics.Recorder) *Executor {
	return &Executor{
		classifier: c,
		catalog:    cat,
		breakers:   br,
		recorder:   rec,
		tracer:     tracing.Noop{},
		sleep:      sleepContext,
		rand:       rand.Float64,
		now:        time.Now,
		log:        slog.Default(),
	}
}

// SetTracer sets the tracer wrapping each attempt.
func (e *Executor) SetTracer(t tracing.Tracer) {
	if t != nil {
		e.tracer = t
	}
}

// SetSleeper replaces the backoff sleep.
func (e *Executor) SetSleeper(s Sleeper) {
	if s != nil {
		e.sleep = s
	}
}

// SetRand replaces the jitter source.
func (e *Executor) SetRand(r func() float64) {
	if r != nil {
		e.rand = r
	}
}

// SetClock replaces the time source used for call timestamps.
func (e *Executor) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// SetLogger sets the logger for retries, final failures and hook panics.
func (e *Executor) SetLogger(l *slog.Logger) {
	if l != nil {
		e.log = l
	}
}

// Run executes op until it succeeds, fails with a non-retryable
// classification, or exhausts the policy. A breaker rejection returns a
// *breaker.OpenError without invoking op.
func (e *Executor) Run(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	dep := opts.Dependency
	if dep == "" {
		dep = classifier.UnknownService
	}
	name := opts.Operation
	if name == "" {
		name = defaultOperation
	}

	decision, err := e.breakers.Gate(dep)
	if err != nil {
		metrics.BreakerRejectionsTotal.WithLabelValues(dep, decision.State.String()).Inc()
		e.log.Debug("Call rejected by circuit breaker", "dependency", dep, "state", decision.State)
		return err
	}
	if decision.Probe {
		// A panicking probe must not keep the slot until its lease runs out.
		defer func() {
			if r := recover(); r != nil {
				e.breakers.ReleaseProbe(dep)
				panic(r)
			}
		}()
	}

	p := e.catalog.Get(opts.Policy)
	for attempt := 0; ; attempt++ {
		err := e.tracer.TraceExternalCall(ctx, dep, name, op)
		if err == nil {
			metrics.AttemptsTotal.WithLabelValues(dep, p.Name, "success").Inc()
			e.breakers.RecordSuccess(dep)
			return nil
		}

		if ctx.Err() != nil {
			metrics.AttemptsTotal.WithLabelValues(dep, p.Name, "canceled").Inc()
			e.breakers.ReleaseProbe(dep)
			return err
		}

		c := e.classifier.Classify(err, domain.CallContext{
			Service:   dep,
			Timestamp: e.now(),
			Values:    opts.Context,
		})
		metrics.AttemptsTotal.WithLabelValues(dep, p.Name, "failure").Inc()
		e.recorder.Record(c)
		e.breakers.RecordFailure(dep, c)

		if !c.Retryable || attempt >= p.MaxRetries {
			e.onFailure(opts, c, attempt+1)
			e.log.Warn("Operation failed",
				"dependency", dep,
				"policy", p.Name,
				"category", c.Category,
				"rule", c.MatchedRule,
				"attempts", attempt+1,
				"error", err,
			)
			return &ClassifiedError{Err: err, Classification: c, Attempts: attempt + 1}
		}

		delay := Delay(p, c, attempt+1, e.rand)
		metrics.RetriesTotal.WithLabelValues(dep, p.Name, string(c.Category)).Inc()
		metrics.RetryDelay.WithLabelValues(dep, p.Name).Observe(delay.Seconds())
		e.onRetry(opts, c, attempt+1, delay)
		e.log.Debug("Retrying operation",
			"dependency", dep,
			"policy", p.Name,
			"category", c.Category,
			"attempt", attempt+1,
			"delay", delay,
		)

		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// Execute is Run for operations that produce a value.
func Execute[T any](ctx context.Context, e *Executor, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, opts, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (e *Executor) onRetry(opts Options, c domain.Classification, attempt int, delay time.Duration) {
	if opts.OnRetry == nil {
		return
	}
	defer e.recoverHook("on_retry", c)
	opts.OnRetry(c, attempt, delay)
}

func (e *Executor) onFailure(opts Options, c domain.Classification, attempt int) {
	if opts.OnFailure == nil {
		return
	}
	defer e.recoverHook("on_failure", c)
	opts.OnFailure(c, attempt)
}

func (e *Executor) recoverHook(hook string, c domain.Classification) {
	if r := recover(); r != nil {
		e.log.Error("Retry hook panicked", "hook", hook, "dependency", c.Context.Service, "panic", r)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
