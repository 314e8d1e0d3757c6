package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/health"
	"github.com/vietddude/resilience/internal/resilience"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/retry"
)

func newAdmin(t *testing.T) (*resilience.Service, *httptest.Server) {
	t.Helper()
	svc := resilience.New(resilience.Config{
		Breaker: breaker.Config{Threshold: 1, Window: time.Minute, RecoveryTime: time.Minute},
		Dependencies: map[string]breaker.Config{
			"notion": {},
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(health.NewServer(svc, 0).Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func TestBreakerCommands(t *testing.T) {
	svc, srv := newAdmin(t)
	ctx := context.Background()

	// trip the breaker with one failure
	_ = svc.ExecuteWithRetry(ctx, retry.Options{Dependency: "notion", Policy: "critical"}, func(context.Context) error {
		return errors.New("system error")
	})

	states, err := fetchBreakers(ctx, srv.URL)
	if err != nil {
		t.Fatalf("fetchBreakers: %v", err)
	}
	if got := states["notion"].State; got != domain.BreakerOpen {
		t.Fatalf("notion state = %v, want OPEN", got)
	}

	var buf bytes.Buffer
	printBreakers(&buf, states)
	if !strings.Contains(buf.String(), "notion") || !strings.Contains(buf.String(), "OPEN") {
		t.Errorf("unexpected table:\n%s", buf.String())
	}

	if err := resetBreaker(ctx, srv.URL+"/", "notion"); err != nil {
		t.Fatalf("resetBreaker: %v", err)
	}
	if d := svc.CheckCircuitBreaker("notion"); d.State != domain.BreakerClosed {
		t.Errorf("state after reset = %v", d.State)
	}

	if err := resetBreaker(ctx, srv.URL, "missing"); err == nil {
		t.Error("expected error for unknown dependency")
	}
}

func TestPrintSnapshots(t *testing.T) {
	var buf bytes.Buffer
	printSnapshots(&buf, []domain.StatsSnapshot{{
		Dependency: "supabase",
		State:      "HALF_OPEN",
		Total:      12,
		WindowMs:   300000,
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})

	out := buf.String()
	for _, want := range []string{"DEPENDENCY", "supabase", "HALF_OPEN", "12", "5m0s", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
