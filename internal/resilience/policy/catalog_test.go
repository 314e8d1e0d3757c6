package policy

import (
	"testing"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

func TestCatalog_Builtins(t *testing.T) {
	c := NewCatalog()
	tests := []struct {
		name       string
		retries    int
		strategy   domain.Strategy
		base, max  time.Duration
		multiplier float64
		jitter     bool
	}{
		{Default, 3, domain.StrategyExponentialBackoff, time.Second, 30 * time.Second, 2, true},
		{Network, 5, domain.StrategyExponentialBackoff, 500 * time.Millisecond, 10 * time.Second, 2, true},
		{Database, 3, domain.StrategyExponentialBackoff, 100 * time.Millisecond, 5 * time.Second, 1.5, true},
		{API, 4, domain.StrategyExponentialBackoff, time.Second, 20 * time.Second, 2, true},
		{RateLimited, 10, domain.StrategyExponentialBackoff, 2 * time.Second, time.Minute, 1.5, true},
		{Critical, 0, domain.StrategyNoRetry, 0, 0, 1, false},
	}

	for _, tt := range tests {
		p := c.Get(tt.name)
		if p.Name != tt.name || p.MaxRetries != tt.retries || p.Strategy != tt.strategy ||
			p.BaseDelay != tt.base || p.MaxDelay != tt.max || p.Multiplier != tt.multiplier ||
			p.Jitter != tt.jitter {
			t.Errorf("policy %s = %+v", tt.name, p)
		}
	}
}

func TestCatalog_UnknownFallsBackToDefault(t *testing.T) {
	c := NewCatalog()
	p := c.Get("does-not-exist")
	if p.Name != Default {
		t.Errorf("expected default policy, got %s", p.Name)
	}
	if c.Has("does-not-exist") {
		t.Error("Has should be false for unknown names")
	}
}

func TestCatalog_Custom(t *testing.T) {
	c, errs := NewCatalogWithCustom(map[string]Policy{
		"notion": {
			MaxRetries: 2,
			Strategy:   domain.StrategyFibonacciBackoff,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   2 * time.Second,
			Multiplier: 1,
		},
		Default:  {MaxRetries: 99, Strategy: domain.StrategyImmediate},
		"broken": {MaxRetries: 1, Strategy: "sideways"},
	})

	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if got := c.Get("notion"); got.Name != "notion" || got.MaxRetries != 2 {
		t.Errorf("custom policy = %+v", got)
	}
	if got := c.Get(Default); got.MaxRetries != 3 {
		t.Errorf("built-in default was overridden: %+v", got)
	}
	if c.Has("broken") {
		t.Error("invalid policy should be skipped")
	}
	if n := len(c.Names()); n != 7 {
		t.Errorf("expected 7 names, got %d", n)
	}
}

func TestPolicy_ValidateBoundsRetries(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		wantErr bool
	}{
		{"none", 0, false},
		{"limit", MaxRetriesLimit, false},
		{"negative", -1, true},
		{"runaway", MaxRetriesLimit + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{
				Name:       tt.name,
				MaxRetries: tt.retries,
				Strategy:   domain.StrategyFibonacciBackoff,
				BaseDelay:  100 * time.Millisecond,
				MaxDelay:   time.Second,
				Multiplier: 1,
			}
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
