package retry

import (
	"math"
	"testing"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/resilience/policy"
)

func TestDelay(t *testing.T) {
	catalog := policy.NewCatalog()
	noJitter := func(name string) policy.Policy {
		p := catalog.Get(name)
		p.Jitter = false
		return p
	}
	withStrategy := func(s domain.Strategy) policy.Policy {
		return policy.Policy{Strategy: s, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2}
	}
	system := domain.Classification{Category: domain.CategorySystem}

	tests := []struct {
		name    string
		policy  policy.Policy
		class   domain.Classification
		attempt int
		rnd     func() float64
		want    time.Duration
	}{
		{"exponential default attempt 3", noJitter(policy.Default), system, 3, nil, 4000 * time.Millisecond},
		{"exponential first retry", noJitter(policy.Default), system, 1, nil, time.Second},
		{"exponential clamped", noJitter(policy.Default), system, 10, nil, 30 * time.Second},
		{"fractional multiplier rounds", noJitter(policy.Database), system, 4, nil, 338 * time.Millisecond},
		{"immediate", withStrategy(domain.StrategyImmediate), system, 4, nil, 0},
		{"fixed", withStrategy(domain.StrategyFixedInterval), system, 4, nil, 100 * time.Millisecond},
		{"linear", withStrategy(domain.StrategyLinearBackoff), system, 4, nil, 400 * time.Millisecond},
		{"fibonacci attempt 5", withStrategy(domain.StrategyFibonacciBackoff), system, 5, nil, 500 * time.Millisecond},
		{"jitter lower bound", catalog.Get(policy.Default), system, 3, func() float64 { return 0 }, 2000 * time.Millisecond},
		{"jitter near upper bound", catalog.Get(policy.Default), system, 3, func() float64 { return 0.5 }, 3000 * time.Millisecond},
		{"rate limit floor", noJitter(policy.Network), domain.Classification{Category: domain.CategoryRateLimit}, 1, nil, RateLimitFloor},
		{"rate limit above floor", noJitter(policy.RateLimited), domain.Classification{Category: domain.CategoryRateLimit}, 4, nil, 6750 * time.Millisecond},
		{"retry hint floors delay", noJitter(policy.Default), domain.Classification{Category: domain.CategorySystem, RetryAfter: 7 * time.Second}, 1, nil, 7 * time.Second},
		{"retry hint capped", noJitter(policy.Default), domain.Classification{Category: domain.CategorySystem, RetryAfter: 2 * time.Minute}, 1, nil, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Delay(tt.policy, tt.class, tt.attempt, tt.rnd); got != tt.want {
				t.Errorf("Delay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelay_RateLimitFloorAlwaysHolds(t *testing.T) {
	catalog := policy.NewCatalog()
	rl := domain.Classification{Category: domain.CategoryRateLimit}
	for _, name := range catalog.Names() {
		p := catalog.Get(name)
		for attempt := 1; attempt <= 10; attempt++ {
			if d := Delay(p, rl, attempt, func() float64 { return 0 }); d < RateLimitFloor {
				t.Errorf("%s attempt %d: delay %v below floor", name, attempt, d)
			}
		}
	}
}

func TestFib(t *testing.T) {
	want := []int64{0, 1, 1, 2, 3, 5, 8, 13, 21}
	for n, w := range want {
		if got := fib(n); got != w {
			t.Errorf("fib(%d) = %d, want %d", n, got, w)
		}
	}
}

func TestFib_Saturates(t *testing.T) {
	tests := []struct {
		n    int
		want int64
	}{
		{92, 7540113804746346429},
		{93, math.MaxInt64},
		{500, math.MaxInt64},
	}
	for _, tt := range tests {
		if got := fib(tt.n); got != tt.want {
			t.Errorf("fib(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}

	p := policy.Policy{
		MaxRetries: 150,
		Strategy:   domain.StrategyFibonacciBackoff,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 1,
	}
	for _, attempt := range []int{92, 93, 150} {
		if got := Delay(p, domain.Classification{}, attempt, nil); got != 10*time.Second {
			t.Errorf("Delay(attempt %d) = %v, want 10s", attempt, got)
		}
	}
}
