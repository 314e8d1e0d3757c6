// Package errmetrics keeps sliding-window counters of classified errors per
// (dependency, category) for reporting.
package errmetrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/metrics"
)

const (
	maxMessageLen = 200

	// bucketWidth is the resolution of windowed statistics.
	bucketWidth = time.Second
)

// Config holds retention settings.
type Config struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxSamples    int           `yaml:"max_samples"`
}

// DefaultConfig keeps samples for 24h, sweeps hourly and bounds each entry
// to 1000 samples.
func DefaultConfig() Config {
	return Config{
		Retention:     24 * time.Hour,
		SweepInterval: time.Hour,
		MaxSamples:    1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = d.MaxSamples
	}
	return c
}

type key struct {
	dependency string
	category   domain.Category
}

// bucket counts every classification recorded within one bucketWidth.
// Samples are capped, buckets are not, so statistics come from buckets.
type bucket struct {
	total      int
	bySeverity map[domain.Severity]int
}

// Recorder aggregates classifications. It is safe for concurrent use.
type Recorder struct {
	mu      sync.RWMutex
	entries map[key]*domain.ErrorMetric
	buckets map[key]map[int64]*bucket
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
}

// NewRecorder creates an empty recorder.
func NewRecorder(cfg Config) *Recorder {
	return &Recorder{
		entries: make(map[key]*domain.ErrorMetric),
		buckets: make(map[key]map[int64]*bucket),
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		log:     slog.Default(),
	}
}

// SetClock replaces the time source.
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetLogger sets the logger used by the sweeper.
func (r *Recorder) SetLogger(l *slog.Logger) {
	if l != nil {
		r.log = l
	}
}

// Config returns the effective configuration.
func (r *Recorder) Config() Config {
	return r.cfg
}

// Record appends a sample for the classification under (dependency, category).
func (r *Recorder) Record(c domain.Classification) {
	dep := c.Context.Service
	ts := c.Context.Timestamp

	r.mu.Lock()
	if ts.IsZero() {
		ts = r.now()
	}
	k := key{dependency: dep, category: c.Category}
	m, ok := r.entries[k]
	if !ok {
		m = &domain.ErrorMetric{Dependency: dep, Category: c.Category, FirstSeen: ts, LastSeen: ts}
		r.entries[k] = m
	}
	m.Count++
	if ts.Before(m.FirstSeen) {
		m.FirstSeen = ts
	}
	if ts.After(m.LastSeen) {
		m.LastSeen = ts
	}
	m.Samples = append(m.Samples, domain.Sample{
		Timestamp: ts,
		Severity:  c.Severity,
		Message:   truncate(c.Raw.Message, maxMessageLen),
	})
	if over := len(m.Samples) - r.cfg.MaxSamples; over > 0 {
		m.Samples = append(m.Samples[:0:0], m.Samples[over:]...)
	}

	bs, ok := r.buckets[k]
	if !ok {
		bs = make(map[int64]*bucket)
		r.buckets[k] = bs
	}
	slot := bucketOf(ts)
	b, ok := bs[slot]
	if !ok {
		b = &bucket{bySeverity: make(map[domain.Severity]int)}
		bs[slot] = b
	}
	b.total++
	b.bySeverity[c.Severity]++
	r.mu.Unlock()

	metrics.ClassifiedErrorsTotal.WithLabelValues(dep, string(c.Category), string(c.Severity)).Inc()
}

// Statistics totals every record inside window, optionally for one
// dependency, at one-second resolution. Breaker states are filled in by the
// caller.
func (r *Recorder) Statistics(dependency string, window time.Duration) domain.StatsReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	cutoff := bucketOf(now.Add(-window))
	report := domain.StatsReport{
		Dependency:   dependency,
		Window:       window,
		GeneratedAt:  now,
		ByCategory:   make(map[domain.Category]int),
		BySeverity:   make(map[domain.Severity]int),
		ByDependency: make(map[string]int),
		Breakers:     make(map[string]domain.BreakerSnapshot),
	}

	for k, bs := range r.buckets {
		if dependency != "" && k.dependency != dependency {
			continue
		}
		for slot, b := range bs {
			if slot < cutoff {
				continue
			}
			report.Total += b.total
			report.ByCategory[k.category] += b.total
			report.ByDependency[k.dependency] += b.total
			for sev, n := range b.bySeverity {
				report.BySeverity[sev] += n
			}
		}
	}
	return report
}

// Entries returns copies of the aggregated entries, optionally for one dependency.
func (r *Recorder) Entries(dependency string) []domain.ErrorMetric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ErrorMetric, 0, len(r.entries))
	for k, m := range r.entries {
		if dependency != "" && k.dependency != dependency {
			continue
		}
		cp := *m
		cp.Samples = append([]domain.Sample(nil), m.Samples...)
		out = append(out, cp)
	}
	return out
}

// Dependencies returns every dependency name with recorded errors, sorted.
func (r *Recorder) Dependencies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for k := range r.entries {
		if _, ok := seen[k.dependency]; ok {
			continue
		}
		seen[k.dependency] = struct{}{}
		out = append(out, k.dependency)
	}
	sort.Strings(out)
	return out
}

// Sweep drops samples and counting buckets older than the retention period
// and deletes entries that are empty and idle past retention.
func (r *Recorder) Sweep() (samples, entries int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.cfg.Retention)
	for k, m := range r.entries {
		kept := m.Samples[:0]
		for _, s := range m.Samples {
			if s.Timestamp.Before(cutoff) {
				samples++
				continue
			}
			kept = append(kept, s)
		}
		m.Samples = kept

		bs := r.buckets[k]
		for slot := range bs {
			if slot < bucketOf(cutoff) {
				delete(bs, slot)
			}
		}

		if len(m.Samples) == 0 && len(bs) == 0 && m.LastSeen.Before(cutoff) {
			delete(r.entries, k)
			delete(r.buckets, k)
			entries++
		}
	}

	metrics.SweptSamplesTotal.Add(float64(samples))
	return samples, entries
}

// Run sweeps on the configured interval until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples, entries := r.Sweep()
			r.log.Debug("Swept error metrics", "samples", samples, "entries", entries)
		}
	}
}

func bucketOf(t time.Time) int64 {
	return t.UnixNano() / int64(bucketWidth)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
