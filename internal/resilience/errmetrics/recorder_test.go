package errmetrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func classification(dep string, cat domain.Category, sev domain.Severity, at time.Time) domain.Classification {
	return domain.Classification{
		Category: cat,
		Severity: sev,
		Raw:      domain.RawError{Message: "boom"},
		Context:  domain.CallContext{Service: dep, Timestamp: at},
	}
}

func newTestRecorder(cfg Config, now *time.Time) *Recorder {
	r := NewRecorder(cfg)
	r.SetClock(func() time.Time { return *now })
	return r
}

func TestRecorder_StatisticsMatchRecordsInWindow(t *testing.T) {
	now := base
	r := newTestRecorder(DefaultConfig(), &now)

	// 3 inside the last hour, 2 outside.
	r.Record(classification("notion", domain.CategoryNetwork, domain.SeverityHigh, base.Add(-10*time.Minute)))
	r.Record(classification("notion", domain.CategoryNetwork, domain.SeverityHigh, base.Add(-20*time.Minute)))
	r.Record(classification("notion", domain.CategoryNetwork, domain.SeverityMedium, base.Add(-59*time.Minute)))
	r.Record(classification("notion", domain.CategoryNetwork, domain.SeverityHigh, base.Add(-61*time.Minute)))
	r.Record(classification("notion", domain.CategoryNetwork, domain.SeverityHigh, base.Add(-5*time.Hour)))
	r.Record(classification("xero", domain.CategoryRateLimit, domain.SeverityMedium, base.Add(-time.Minute)))

	stats := r.Statistics("notion", time.Hour)
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByCategory[domain.CategoryNetwork] != 3 {
		t.Errorf("network = %d, want 3", stats.ByCategory[domain.CategoryNetwork])
	}
	if stats.BySeverity[domain.SeverityHigh] != 2 || stats.BySeverity[domain.SeverityMedium] != 1 {
		t.Errorf("severity breakdown = %v", stats.BySeverity)
	}
	if _, ok := stats.ByDependency["xero"]; ok {
		t.Error("dependency filter leaked xero")
	}

	all := r.Statistics("", 24*time.Hour)
	if all.Total != 6 || all.ByDependency["xero"] != 1 || all.ByDependency["notion"] != 5 {
		t.Errorf("unfiltered stats = %+v", all)
	}
}

func TestRecorder_EntryBookkeeping(t *testing.T) {
	now := base
	r := newTestRecorder(Config{MaxSamples: 3}, &now)

	long := strings.Repeat("é", 300)
	for i := 0; i < 5; i++ {
		c := classification("gmail", domain.CategoryTimeout, domain.SeverityMedium, base.Add(time.Duration(i)*time.Second))
		c.Raw.Message = long
		r.Record(c)
	}

	entries := r.Entries("gmail")
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	m := entries[0]
	if m.Count != 5 {
		t.Errorf("count = %d, want 5", m.Count)
	}
	if len(m.Samples) != 3 {
		t.Errorf("samples = %d, want 3", len(m.Samples))
	}
	if !m.FirstSeen.Equal(base) || !m.LastSeen.Equal(base.Add(4*time.Second)) {
		t.Errorf("first/last seen = %v/%v", m.FirstSeen, m.LastSeen)
	}
	if !m.Samples[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("oldest samples should be dropped first, got %v", m.Samples[0].Timestamp)
	}
	if n := len(m.Samples[0].Message); n > maxMessageLen {
		t.Errorf("message not truncated: %d bytes", n)
	}
}

func TestRecorder_StatisticsCountBeyondSampleCap(t *testing.T) {
	now := base
	r := newTestRecorder(Config{MaxSamples: 10}, &now)

	// 1500 records spread over the last 25 minutes.
	for i := 0; i < 1500; i++ {
		at := base.Add(-25*time.Minute + time.Duration(i)*time.Second)
		sev := domain.SeverityHigh
		if i%3 == 0 {
			sev = domain.SeverityCritical
		}
		r.Record(classification("notion", domain.CategorySystem, sev, at))
	}

	stats := r.Statistics("notion", time.Hour)
	if stats.Total != 1500 {
		t.Errorf("total = %d, want 1500", stats.Total)
	}
	if stats.BySeverity[domain.SeverityCritical] != 500 || stats.BySeverity[domain.SeverityHigh] != 1000 {
		t.Errorf("severity breakdown = %v", stats.BySeverity)
	}
	if got := r.Statistics("notion", 10*time.Minute).Total; got != 600 {
		t.Errorf("10m total = %d, want 600", got)
	}
	if n := len(r.Entries("notion")[0].Samples); n != 10 {
		t.Errorf("samples = %d, want 10", n)
	}

	now = base.Add(24*time.Hour - 10*time.Minute)
	r.Sweep()
	if got := r.Statistics("notion", 48*time.Hour).Total; got != 600 {
		t.Errorf("total after sweep = %d, want 600", got)
	}
}

func TestRecorder_Sweep(t *testing.T) {
	now := base
	r := newTestRecorder(DefaultConfig(), &now)

	r.Record(classification("notion", domain.CategoryNetwork, domain.SeverityHigh, base.Add(-30*time.Hour)))
	r.Record(classification("notion", domain.CategoryNetwork, domain.SeverityHigh, base.Add(-time.Hour)))
	r.Record(classification("xero", domain.CategorySystem, domain.SeverityHigh, base.Add(-25*time.Hour)))

	samples, entries := r.Sweep()
	if samples != 2 || entries != 1 {
		t.Errorf("sweep removed %d samples / %d entries, want 2 / 1", samples, entries)
	}
	if deps := r.Dependencies(); len(deps) != 1 || deps[0] != "notion" {
		t.Errorf("remaining dependencies = %v", deps)
	}

	now = base.Add(24 * time.Hour)
	samples, entries = r.Sweep()
	if samples != 1 || entries != 1 {
		t.Errorf("second sweep removed %d / %d, want 1 / 1", samples, entries)
	}
	if len(r.Entries("")) != 0 {
		t.Error("expected no entries after full retention")
	}
}

func TestRecorder_RunStopsOnCancel(t *testing.T) {
	r := NewRecorder(Config{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
